package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Snowflake is a Discord ID. It is written as a JSON number; quoted strings
// are accepted on read.
type Snowflake int64

func ParseSnowflake(s string) (Snowflake, error) {
	s = strings.TrimSpace(s)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ValidationError{Field: "id", Msg: fmt.Sprintf("%q is not a discord id", s)}
	}
	return Snowflake(id), nil
}

func (s Snowflake) String() string {
	if s == 0 {
		return ""
	}
	return strconv.FormatInt(int64(s), 10)
}

func (s *Snowflake) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if str == "" {
			*s = 0
			return nil
		}
		id, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return fmt.Errorf("snowflake %q: %w", str, err)
		}
		*s = Snowflake(id)
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err != nil {
		return fmt.Errorf("snowflake: %w", err)
	}
	*s = Snowflake(id)
	return nil
}

// Trigger is a word that causes an automatic reply.
type Trigger struct {
	Word     string `json:"word"`
	Response string `json:"response"`
}

// Quote is a stored text snippet, optionally with an image URL.
//
// On disk a quote is either the legacy bare string or {"text", "image"}.
// Decoding accepts both; encoding always writes the object form.
type Quote struct {
	Text  string
	Image string
}

type quoteDoc struct {
	Text  string  `json:"text"`
	Image *string `json:"image"`
}

func (q Quote) HasImage() bool { return q.Image != "" }

func (q Quote) MarshalJSON() ([]byte, error) {
	doc := quoteDoc{Text: q.Text}
	if q.Image != "" {
		img := q.Image
		doc.Image = &img
	}
	return json.Marshal(doc)
}

func (q *Quote) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*q = Quote{Text: text}
		return nil
	}
	var doc quoteDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	*q = Quote{Text: doc.Text}
	if doc.Image != nil {
		q.Image = *doc.Image
	}
	return nil
}

// GuildConfig holds one guild's settings. The zero value is the implicit
// configuration of a guild that was never configured.
type GuildConfig struct {
	QuoteChannelID Snowflake `json:"quote_channel_id,omitempty"`
	Triggers       []Trigger `json:"triggers,omitempty"`
	Quotes         []Quote   `json:"quotes,omitempty"`
}

// HasChannel reports whether a broadcast channel is configured.
func (g GuildConfig) HasChannel() bool { return g.QuoteChannelID != 0 }

// Clone returns a deep copy so callers can mutate it freely.
func (g GuildConfig) Clone() GuildConfig {
	out := GuildConfig{QuoteChannelID: g.QuoteChannelID}
	if g.Triggers != nil {
		out.Triggers = append([]Trigger(nil), g.Triggers...)
	}
	if g.Quotes != nil {
		out.Quotes = append([]Quote(nil), g.Quotes...)
	}
	return out
}

// ConfigRoot is the whole persisted document.
type ConfigRoot struct {
	Servers map[string]GuildConfig `json:"servers"`
}

func newConfigRoot() ConfigRoot {
	return ConfigRoot{Servers: make(map[string]GuildConfig)}
}

func (r ConfigRoot) clone() ConfigRoot {
	out := ConfigRoot{Servers: make(map[string]GuildConfig, len(r.Servers))}
	for id, g := range r.Servers {
		out.Servers[id] = g.Clone()
	}
	return out
}

// LegacyQuotes is the quotes.json document of the single-pool variant.
type LegacyQuotes struct {
	Quotes []Quote `json:"quotes"`
}
