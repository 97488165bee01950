package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// UserSummary is the expanded form of a user reference.
type UserSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Ref is a reference that the backend may send either as a bare id or as an
// expanded object. Decoding always yields the canonical ID; the expanded data,
// when present, is kept aside in Summary.
type Ref struct {
	ID      string
	Summary *UserSummary
}

// UnmarshalJSON accepts "abc", 42, {"id": "abc", ...} and {"_id": "abc", ...}.
func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*r = Ref{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '"':
		return json.Unmarshal(data, &r.ID)
	case '{':
		var obj struct {
			ID       json.RawMessage `json:"id"`
			MongoID  json.RawMessage `json:"_id"`
			Name     string          `json:"name"`
			Nombre   string          `json:"nombre"`
			Username string          `json:"username"`
			Avatar   string          `json:"avatar"`
			Email    string          `json:"email"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("decode reference object: %w", err)
		}
		raw := obj.MongoID
		if len(raw) == 0 {
			raw = obj.ID
		}
		id, err := scalarID(raw)
		if err != nil {
			return err
		}
		name := obj.Name
		if name == "" {
			name = obj.Nombre
		}
		r.ID = id
		r.Summary = &UserSummary{
			ID:       id,
			Name:     name,
			Username: obj.Username,
			Avatar:   obj.Avatar,
			Email:    obj.Email,
		}
		return nil
	default:
		id, err := scalarID(data)
		if err != nil {
			return err
		}
		r.ID = id
		return nil
	}
}

// MarshalJSON writes the expanded object when known and the bare id otherwise.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.Summary != nil {
		return json.Marshal(r.Summary)
	}
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

// scalarID turns a JSON string or number into an id string.
func scalarID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode reference id: %w", err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("unsupported reference id %s", string(raw))
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return "", fmt.Errorf("unsupported reference id %s", string(raw))
	}
	return n.String(), nil
}

// UnmarshalJSON normalizes the sender reference into SenderID and Sender.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Sender *Ref `json:"sender,omitempty"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Sender != nil {
		if m.SenderID == "" {
			m.SenderID = aux.Sender.ID
		}
		m.Sender = aux.Sender.Summary
	}
	return nil
}

// UnmarshalJSON normalizes the author reference into AuthorID and Author.
func (c *Comment) UnmarshalJSON(data []byte) error {
	type alias Comment
	aux := struct {
		*alias
		Author *Ref `json:"author,omitempty"`
		Parent *Ref `json:"parent,omitempty"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Author != nil {
		if c.AuthorID == "" {
			c.AuthorID = aux.Author.ID
		}
		c.Author = aux.Author.Summary
	}
	if aux.Parent != nil && c.ParentID == "" {
		c.ParentID = aux.Parent.ID
	}
	return nil
}
