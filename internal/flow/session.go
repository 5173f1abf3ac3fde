// Package flow models the publish workflow as an explicit finite-state
// object: upload, template, caption, publish. Each stage has a pure
// validation gate, so handlers can reject out-of-order steps without any
// ambient client-side state.
package flow

import (
	"errors"
	"fmt"
)

// Stage is one step of the publish workflow.
type Stage string

const (
	StageUpload   Stage = "upload"
	StageTemplate Stage = "template"
	StageCaption  Stage = "caption"
	StagePublish  Stage = "publish"
)

// stageOrder defines workflow progression.
var stageOrder = []Stage{StageUpload, StageTemplate, StageCaption, StagePublish}

var (
	ErrUnknownStage = errors.New("unknown workflow stage")
	ErrStageBlocked = errors.New("workflow stage prerequisites not met")
	ErrStageSkipped = errors.New("workflow stage reached out of order")
)

// Session is the workflow state passed explicitly through each step handler.
type Session struct {
	Stage       Stage  `json:"stage"`
	ImageURL    string `json:"imageUrl,omitempty"`    // Set by the upload step.
	TemplateID  string `json:"templateId,omitempty"`  // Set by the template step.
	ComposedURL string `json:"composedUrl,omitempty"` // Overlay-rendered image.
	Caption     string `json:"caption,omitempty"`     // Set by the caption step.
	PageID      string `json:"pageId,omitempty"`      // Publish target page.
}

// NewSession starts a fresh workflow at the upload stage.
func NewSession() *Session {
	return &Session{Stage: StageUpload}
}

// stageIndex returns the position of a stage, or -1.
func stageIndex(stage Stage) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// ValidateStage is the pure per-stage gate: it reports whether the session
// carries everything the given stage needs to run. It never mutates state.
func ValidateStage(stage Stage, s *Session) error {
	switch stage {
	case StageUpload:
		return nil
	case StageTemplate:
		if s.ImageURL == "" {
			return fmt.Errorf("%w: template requires an uploaded image", ErrStageBlocked)
		}
		return nil
	case StageCaption:
		if s.ImageURL == "" || s.TemplateID == "" {
			return fmt.Errorf("%w: caption requires an image and a template", ErrStageBlocked)
		}
		return nil
	case StagePublish:
		if s.ImageURL == "" || s.TemplateID == "" || s.Caption == "" {
			return fmt.Errorf("%w: publish requires image, template, and caption", ErrStageBlocked)
		}
		if s.PageID == "" {
			return fmt.Errorf("%w: publish requires a target page", ErrStageBlocked)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
}

// Advance moves the session to the target stage after checking that it is
// the next stage in order and its gate passes.
func (s *Session) Advance(to Stage) error {
	toIdx := stageIndex(to)
	if toIdx == -1 {
		return fmt.Errorf("%w: %q", ErrUnknownStage, to)
	}
	curIdx := stageIndex(s.Stage)
	if toIdx > curIdx+1 {
		return fmt.Errorf("%w: cannot jump from %q to %q", ErrStageSkipped, s.Stage, to)
	}
	if err := ValidateStage(to, s); err != nil {
		return err
	}
	s.Stage = to
	return nil
}
