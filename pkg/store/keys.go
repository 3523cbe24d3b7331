package store

import (
	"fmt"
	"strings"
)

// idEscaper キーの区切り文字 "_" をID内に残さない
var idEscaper = strings.NewReplacer("%", "%25", "_", "%5F")

func escapeID(id string) string {
	return idEscaper.Replace(id)
}

// AudiencePrefix オーディエンスに紐づく全キーの接頭辞
func AudiencePrefix(audienceID string) string {
	return fmt.Sprintf("audience_%s_", escapeID(audienceID))
}

// SegmentsKey 生成済みセグメント一覧
func SegmentsKey(audienceID string) string {
	return AudiencePrefix(audienceID) + "segments"
}

// SelectedSegmentKey 既定で選択されたセグメント
func SelectedSegmentKey(audienceID string) string {
	return AudiencePrefix(audienceID) + "selectedSegment"
}

// PersonasKey セグメントのペルソナ一覧
func PersonasKey(audienceID, segmentID string) string {
	return AudiencePrefix(audienceID) + "personas_" + escapeID(segmentID)
}

// FormKey ユースケースフォームの入力途中の値
func FormKey(draftID, task string) string {
	return fmt.Sprintf("draft_%s_form_%s", escapeID(draftID), task)
}
