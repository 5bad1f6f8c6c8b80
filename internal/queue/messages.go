package queue

import (
	"encoding/json"
	"fmt"
)

// Wire tags for the message union.
const (
	typeInitializeLibraryProcessor = "InitializeLibraryProcessor"
	typeProcessLibraryPage         = "ProcessLibraryPage"
	typeProcessPlaylistPage        = "ProcessPlaylistPage"
)

// Message is the closed union of queue messages. Exactly two variants are
// live; [ProcessPlaylistPage] remains in the schema for wire compatibility
// but must never be produced, and its handler rejects it.
type Message interface {
	messageType() string
}

// InitializeLibraryProcessor asks the worker to index a user's library.
type InitializeLibraryProcessor struct {
	UserID string `json:"userId"`
}

func (InitializeLibraryProcessor) messageType() string { return typeInitializeLibraryProcessor }

// ProcessLibraryPage asks the worker to process one previously indexed page.
type ProcessLibraryPage struct {
	UserID string `json:"userId"`
	PageID string `json:"pageId"`
}

func (ProcessLibraryPage) messageType() string { return typeProcessLibraryPage }

// ProcessPlaylistPage is the abandoned playlist variant. Decodable for
// wire compatibility, unsupported by the worker.
type ProcessPlaylistPage struct {
	UserID      string `json:"userId"`
	PlaylistURL string `json:"playlistUrl"`
	PageNo      int    `json:"pageNo"`
}

func (ProcessPlaylistPage) messageType() string { return typeProcessPlaylistPage }

// MarshalMessage serializes a message into its tagged JSON form.
func MarshalMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case InitializeLibraryProcessor:
		return json.Marshal(struct {
			Type string `json:"type"`
			InitializeLibraryProcessor
		}{typeInitializeLibraryProcessor, v})
	case ProcessLibraryPage:
		return json.Marshal(struct {
			Type string `json:"type"`
			ProcessLibraryPage
		}{typeProcessLibraryPage, v})
	case ProcessPlaylistPage:
		return json.Marshal(struct {
			Type string `json:"type"`
			ProcessPlaylistPage
		}{typeProcessPlaylistPage, v})
	default:
		return nil, fmt.Errorf("unknown message type %T", m)
	}
}

// UnmarshalMessage parses a tagged JSON message into its concrete variant.
func UnmarshalMessage(data []byte) (Message, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("failed to parse message envelope: %w", err)
	}

	switch tag.Type {
	case typeInitializeLibraryProcessor:
		var m InitializeLibraryProcessor
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", tag.Type, err)
		}
		return m, nil
	case typeProcessLibraryPage:
		var m ProcessLibraryPage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", tag.Type, err)
		}
		return m, nil
	case typeProcessPlaylistPage:
		var m ProcessPlaylistPage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", tag.Type, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", tag.Type)
	}
}
