package domain

// Features is an insertion-ordered set of capability tags handed to the toolkit.
type Features struct {
	tags []string
}

func NewFeatures(tags ...string) Features {
	out := Features{tags: make([]string, 0, len(tags))}
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out.tags = append(out.tags, t)
	}
	return out
}

// DefaultFeatures mirrors the capability list the launch page has always shipped with.
func DefaultFeatures() Features {
	return NewFeatures("video", "audio", "settings", "users", "chat", "share")
}

func (f Features) Has(tag string) bool {
	for _, t := range f.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (f Features) Len() int { return len(f.tags) }

// List returns a copy in insertion order.
func (f Features) List() []string {
	out := make([]string, len(f.tags))
	copy(out, f.tags)
	return out
}

// SessionConfig is what the conferencing toolkit renders from.
// Only Credential changes after construction.
type SessionConfig struct {
	Credential  string      `json:"videoSDKJWT"`
	SessionName SessionName `json:"sessionName"`
	DisplayName string      `json:"userName"`
	Passcode    string      `json:"sessionPasscode"`
	Features    []string    `json:"features"`
}

func NewSessionConfig(id LaunchIdentity, displayName string, features Features) SessionConfig {
	return SessionConfig{
		SessionName: id.SessionName,
		DisplayName: displayName,
		Passcode:    id.Passcode,
		Features:    features.List(),
	}
}

// Clone returns a copy that shares no memory with c.
func (c SessionConfig) Clone() SessionConfig {
	out := c
	out.Features = make([]string, len(c.Features))
	copy(out.Features, c.Features)
	return out
}
