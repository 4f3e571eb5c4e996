package audio

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Codec describes how ffmpeg produces one recorder mime type.
type Codec struct {
	MimeType string
	Encoder  string
	Muxer    string
	Args     []string
}

// DefaultCodecs is ordered by preference, generic fallback last.
var DefaultCodecs = []Codec{
	{MimeType: "audio/webm;codecs=opus", Encoder: "libopus", Muxer: "webm", Args: []string{"-c:a", "libopus", "-b:a", "32k"}},
	{MimeType: "audio/ogg;codecs=opus", Encoder: "libopus", Muxer: "ogg", Args: []string{"-c:a", "libopus", "-b:a", "32k"}},
	{MimeType: "audio/mp4", Encoder: "aac", Muxer: "mp4", Args: []string{"-c:a", "aac", "-b:a", "64k", "-movflags", "frag_keyframe+empty_moov"}},
	{MimeType: "audio/wav", Encoder: "pcm_s16le", Muxer: "wav", Args: []string{"-c:a", "pcm_s16le"}},
}

// DefaultMimeTypes lists DefaultCodecs' mime types in preference order.
func DefaultMimeTypes() []string {
	out := make([]string, 0, len(DefaultCodecs))
	for _, codec := range DefaultCodecs {
		out = append(out, codec.MimeType)
	}
	return out
}

func codecFor(mimeType string) (Codec, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(mimeType)), " ", "")
	for _, codec := range DefaultCodecs {
		if codec.MimeType == normalized {
			return codec, true
		}
	}
	return Codec{}, false
}

// capabilities caches what the local ffmpeg build can encode and filter.
type capabilities struct {
	command string

	once     sync.Once
	encoders map[string]bool
	filters  map[string]bool
}

func newCapabilities(command string) *capabilities {
	return &capabilities{command: command}
}

func (c *capabilities) probe() {
	c.once.Do(func() {
		c.encoders = listComponents(c.command, "-encoders")
		c.filters = listComponents(c.command, "-filters")
	})
}

func (c *capabilities) HasEncoder(name string) bool {
	if name == "pcm_s16le" {
		return true
	}
	c.probe()
	return c.encoders[name]
}

func (c *capabilities) HasFilter(name string) bool {
	c.probe()
	return c.filters[name]
}

func listComponents(command string, flag string) map[string]bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, command, "-hide_banner", flag).Output()
	found := map[string]bool{}
	if err != nil && len(out) == 0 {
		return found
	}
	return parseComponentList(out)
}

// parseComponentList reads `ffmpeg -encoders` / `-filters` listings, where
// each entry is a flags column followed by the component name.
func parseComponentList(out []byte) map[string]bool {
	found := map[string]bool{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[1] == "=" {
			continue
		}
		found[fields[1]] = true
	}
	return found
}
