package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Tag is the event discriminator carried in e.t.
type Tag string

const (
	TagJoin  Tag = "join"
	TagLeave Tag = "leave"
	TagMsg   Tag = "msg"
	TagErr   Tag = "err"
	TagMotd  Tag = "motd"
)

// Tags is the closed set of tags this client understands.
var Tags = []Tag{TagJoin, TagLeave, TagMsg, TagErr, TagMotd}

// Known reports whether t belongs to the closed tag set. Unknown tags are
// still valid on the wire.
func (t Tag) Known() bool {
	return lo.Contains(Tags, t)
}

var ErrInvalidEnvelope = errors.New("envelope: invalid envelope")

// Meta is the e block of an envelope.
type Meta struct {
	Tag     Tag   `json:"t"`
	Created int64 `json:"c"`
}

// Envelope is the {d, e} wrapper of every event. Data is kept opaque.
type Envelope struct {
	Data json.RawMessage `json:"d"`
	Meta Meta            `json:"e"`
}

// New wraps payload under tag, stamped with at in whole unix seconds.
func New(tag Tag, payload any, at time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal %s payload: %w", tag, err)
	}
	env := Envelope{
		Data: data,
		Meta: Meta{Tag: tag, Created: at.Unix()},
	}
	return env, env.Validate()
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(string(e.Meta.Tag)) == "" {
		return fmt.Errorf("%w: missing e.t", ErrInvalidEnvelope)
	}
	if len(bytes.TrimSpace(e.Data)) == 0 {
		return fmt.Errorf("%w: missing d", ErrInvalidEnvelope)
	}
	return nil
}

func (e Envelope) Tag() Tag {
	return e.Meta.Tag
}

func (e Envelope) Time() time.Time {
	return time.Unix(e.Meta.Created, 0)
}

// DecodeData unmarshals the payload into v.
func (e Envelope) DecodeData(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("envelope: decode %s payload: %w", e.Meta.Tag, err)
	}
	return nil
}

// Encode returns the wire text of e.
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

type wireEnvelope struct {
	D json.RawMessage `json:"d"`
	E *wireMeta       `json:"e"`
}

type wireMeta struct {
	T *string `json:"t"`
	C *int64  `json:"c"`
}

// Decode parses one frame. Frames missing d, e, e.t or an integer e.c are
// rejected with ErrInvalidEnvelope.
func Decode(frame []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(frame, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if w.E == nil {
		return Envelope{}, fmt.Errorf("%w: missing e", ErrInvalidEnvelope)
	}
	if w.E.T == nil {
		return Envelope{}, fmt.Errorf("%w: missing e.t", ErrInvalidEnvelope)
	}
	if w.E.C == nil {
		return Envelope{}, fmt.Errorf("%w: missing e.c", ErrInvalidEnvelope)
	}
	env := Envelope{
		Data: w.D,
		Meta: Meta{Tag: Tag(*w.E.T), Created: *w.E.C},
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
