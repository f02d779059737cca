package models

// Paragraph is the unit of review. Paragraphs are addressed by their
// 1-based index within a chapter. JSON field names follow the wire contract
// consumed by review clients.
type Paragraph struct {
	PartOfChapter         int64            `json:"partOfChapter" db:"chapter_id"`
	Index                 int              `json:"index" db:"idx"`
	OriginalText          string           `json:"originalText" db:"original_text"`
	CorrectedText         string           `json:"correctedText,omitempty" db:"corrected_text"`
	ManuallyCorrectedText string           `json:"manuallyCorrectedText,omitempty" db:"manually_corrected_text"`
	CorrectionStatus      CorrectionStatus `json:"correctionStatus" db:"correction_status"`
	LeadingSpace          int              `json:"leadingSpace" db:"leading_space"`
}

// HasCorrection reports whether any corrected variant exists.
func (p *Paragraph) HasCorrection() bool {
	return p.CorrectedText != "" || p.ManuallyCorrectedText != ""
}

// EffectiveCorrection returns the text a reviewer works against: the manual
// correction when present, the generated one otherwise. Manual always wins.
func (p *Paragraph) EffectiveCorrection() string {
	if p.ManuallyCorrectedText != "" {
		return p.ManuallyCorrectedText
	}
	return p.CorrectedText
}

// SaveManualRequest is the body of a saveManual action. An empty string is
// rejected before any request is made, so CorrectedText is always non-empty
// on the wire.
type SaveManualRequest struct {
	CorrectedText string `json:"correctedText"`
}

// ApproveRequest is the body of an approve action. A nil CorrectedText is
// serialized as JSON null and means "approve with no correction".
type ApproveRequest struct {
	CorrectedText *string `json:"correctedText"`
}

// NextParagraphResponse is the successful payload of the zen navigation
// endpoint. Next may equal the current index when no further paragraph in
// the requested direction needs review.
type NextParagraphResponse struct {
	Next int `json:"next"`
}

// AIStatus reports whether the generation queue is doing or about to do work.
type AIStatus struct {
	Thinking bool `json:"thinking"`
}
