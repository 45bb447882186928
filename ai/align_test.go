package ai

import "testing"

func TestAlignTranscriptPicksMaxOverlap(t *testing.T) {
	transcript := []TranscriptSegment{
		{Start: 0.0, End: 2.0, Text: "hello"},
	}
	speakers := []SpeakerSegment{
		{Start: 0.0, End: 0.5, SpeakerID: 0},
		{Start: 0.5, End: 2.0, SpeakerID: 1},
	}

	labeled := AlignTranscript(transcript, speakers)
	if len(labeled) != 1 {
		t.Fatalf("expected 1 labeled segment, got %d", len(labeled))
	}
	if labeled[0].SpeakerLabel == nil || *labeled[0].SpeakerLabel != "Speaker 2" {
		t.Errorf("expected \"Speaker 2\" (max overlap), got %v", labeled[0].SpeakerLabel)
	}
}

func TestAlignTranscriptNoOverlapLeavesNilLabel(t *testing.T) {
	transcript := []TranscriptSegment{
		{Start: 5.0, End: 6.0, Text: "gap"},
	}
	speakers := []SpeakerSegment{
		{Start: 0.0, End: 1.0, SpeakerID: 0},
	}

	labeled := AlignTranscript(transcript, speakers)
	if labeled[0].SpeakerLabel != nil {
		t.Errorf("expected nil speaker label for zero overlap, got %v", *labeled[0].SpeakerLabel)
	}
}

func TestAlignTranscriptEmptySpeakers(t *testing.T) {
	transcript := []TranscriptSegment{{Start: 0, End: 1, Text: "x"}}
	labeled := AlignTranscript(transcript, nil)
	if labeled[0].SpeakerLabel != nil {
		t.Errorf("expected nil label with no speaker segments, got %v", *labeled[0].SpeakerLabel)
	}
}

func TestAlignTranscriptPreservesText(t *testing.T) {
	transcript := []TranscriptSegment{{Start: 0, End: 1, Text: "preserved"}}
	speakers := []SpeakerSegment{{Start: 0, End: 1, SpeakerID: 3}}
	labeled := AlignTranscript(transcript, speakers)
	if labeled[0].Text != "preserved" {
		t.Errorf("expected text to survive alignment untouched, got %q", labeled[0].Text)
	}
	if *labeled[0].SpeakerLabel != "Speaker 4" {
		t.Errorf("expected 1-based speaker label \"Speaker 4\", got %q", *labeled[0].SpeakerLabel)
	}
}
