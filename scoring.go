// scoring.go
package main

import (
	"fmt"
	"sort"
)

// NormalizeDetections collapses the raw model output into a presence verdict.
//
// The model is already configured to discard low-confidence boxes and to merge
// overlapping boxes of the same class, but it can still report a class more
// than once (e.g. two caps). Scoring only cares about presence, so records are
// stable-sorted by confidence descending and only the first record per class
// is kept. The returned list preserves that order and is reused for display
// and for the history details column.
//
// An empty input yields an all-false verdict and an empty list.
func NormalizeDetections(records []Detection) (PresenceVerdict, []Detection) {
	sorted := make([]Detection, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	deduped := make([]Detection, 0, len(KnownClasses))
	seen := make(map[string]bool, len(KnownClasses))
	for _, det := range sorted {
		if seen[det.Class] {
			continue
		}
		seen[det.Class] = true
		deduped = append(deduped, det)
	}

	verdict := make(PresenceVerdict, len(KnownClasses))
	for _, class := range KnownClasses {
		verdict[class] = seen[class]
	}
	return verdict, deduped
}

// ScoreVerdict maps a presence verdict to a reward decision. Pure function:
// no side effects, same verdict always produces the same result.
//
// The container body is a hard precondition. Without it the image is not a
// recognizable container at all and no reward is issued. When the body is
// present the score starts from BaseScore and each undesired class still
// attached subtracts DeductionValue with an itemized reason. The final score
// is clamped at zero so future penalty changes can never drive it negative.
func ScoreVerdict(verdict PresenceVerdict) ScoringResult {
	if !verdict[ClassBottle] {
		return ScoringResult{
			Points:     0,
			Message:    "No container body was recognized. Please upload a clear photo of a beverage container.",
			Status:     StatusInvalid,
			Deductions: []Deduction{},
		}
	}

	points := BaseScore
	deductions := []Deduction{}

	if verdict[ClassCap] {
		points -= DeductionValue
		deductions = append(deductions, Deduction{
			Reason: fmt.Sprintf("Cap still attached (-%dP)", DeductionValue),
			Amount: DeductionValue,
		})
	}
	if verdict[ClassLabel] {
		points -= DeductionValue
		deductions = append(deductions, Deduction{
			Reason: fmt.Sprintf("Label still attached (-%dP)", DeductionValue),
			Amount: DeductionValue,
		})
	}

	if points < 0 {
		points = 0
	}

	message := fmt.Sprintf("Perfect! %d points awarded.", points)
	if len(deductions) > 0 {
		message = fmt.Sprintf("Analysis complete! %d points awarded after deductions.", points)
	}

	return ScoringResult{
		Points:     points,
		Message:    message,
		Status:     StatusPass,
		Deductions: deductions,
	}
}
