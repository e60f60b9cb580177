// Package events defines the messages exchanged over NATS by the
// pdf-audio-service and its collaborators.
package events

import "time"

// EventHeader contains metadata common to all events.
type EventHeader struct {
	Timestamp     time.Time `json:"Timestamp"`
	WorkflowID    string    `json:"WorkflowID"`
	UserID        string    `json:"UserID"`
	TenantID      string    `json:"TenantID"`
	EventID       string    `json:"EventID"`
	CorrelationID string    `json:"CorrelationID"`
}

// PDFUploadedEvent is triggered when a PDF lands in the document library and
// should be ingested into the vector index.
type PDFUploadedEvent struct {
	Header   EventHeader `json:"Header"`
	Filename string      `json:"Filename"`
}

// DocumentIndexedEvent is published after a PDF has been chunked, embedded and
// added to the index.
type DocumentIndexedEvent struct {
	Header     EventHeader `json:"Header"`
	Filename   string      `json:"Filename"`
	ChunkCount int         `json:"ChunkCount"`
}

// GenerateAudioRequestedEvent asks the service to produce an audio artifact.
// Exactly one of Text, Filename+PageNumber, or Filename+EntirePDF must be set.
type GenerateAudioRequestedEvent struct {
	Header         EventHeader       `json:"Header"`
	Text           string            `json:"Text,omitempty"`
	Filename       string            `json:"Filename,omitempty"`
	PageNumber     int               `json:"PageNumber,omitempty"`
	EntirePDF      bool              `json:"EntirePDF,omitempty"`
	Podcast        bool              `json:"Podcast,omitempty"`
	TwoSpeakers    bool              `json:"TwoSpeakers,omitempty"`
	Accent         string            `json:"Accent,omitempty"`
	Style          string            `json:"Style,omitempty"`
	Expressiveness string            `json:"Expressiveness,omitempty"`
	Speakers       map[string]string `json:"Speakers,omitempty"`
}

// ChapterInfo is the wire form of one chapter of a generated artifact.
type ChapterInfo struct {
	Index   int    `json:"Index"`
	Speaker string `json:"Speaker"`
	Text    string `json:"Text"`
	StartMS int64  `json:"StartMS"`
	EndMS   int64  `json:"EndMS"`
	PartURL string `json:"PartURL,omitempty"`
}

// AudioGeneratedEvent is published when an audio artifact is ready.
type AudioGeneratedEvent struct {
	Header   EventHeader   `json:"Header"`
	URL      string        `json:"URL"`
	Parts    []string      `json:"Parts,omitempty"`
	Chapters []ChapterInfo `json:"Chapters"`
	Degraded bool          `json:"Degraded,omitempty"`
}
