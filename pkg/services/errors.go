package services

import (
	"errors"
	"fmt"
	"strings"

	"persona-sim-api/pkg/backend"
)

var (
	// ErrNotFound 対象が存在しない
	ErrNotFound = errors.New("not found")
	// ErrChatBusy 同じセッションで送信中のメッセージがある
	ErrChatBusy = errors.New("a message is already being sent in this chat")
)

// FieldError フィールド単位の入力エラー
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors 入力エラーの集合。送信のみをブロックする。
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Field + ": " + e.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (v *ValidationErrors) add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// err エラーがなければnilを返す
func (v ValidationErrors) err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// AsValidation ValidationErrors を取り出す
func AsValidation(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// notFoundOr バックエンドの404をErrNotFoundに変換し、それ以外はラップして返す
func notFoundOr(err error, what string) error {
	if backend.IsNotFound(err) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to fetch %s: %w", what, err)
}
