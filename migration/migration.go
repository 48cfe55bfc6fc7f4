package migration

import (
	"bytes"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalidID = errors.New("invalid migration id")
var ErrInvalidName = errors.New("invalid migration name")

type (
	// ID is a digits-only, usually zero-padded, ordinal of a migration.
	// IDs are compared by numeric value, so "001" and "1" are the same ID.
	ID string

	Migration struct {
		ID         ID
		Name       string
		Forward    []string
		Reverse    []string
		AuthoredAt time.Time
	}

	ClockFunc func() time.Time
	Factory   func() (*Migration, error)
)

// New creates a factory for a migration with the given id, name and scripts
func New(id, name string, forward, reverse []string) Factory {
	return NewAuthored(id, name, time.Time{}, forward, reverse)
}

// NewAuthored is New with the informational authoring time set
func NewAuthored(id, name string, authoredAt time.Time, forward, reverse []string) Factory {
	return func() (*Migration, error) {
		mID := ID(strings.TrimSpace(id))
		if err := mID.Validate(); err != nil {
			return nil, err
		}

		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.Wrapf(ErrInvalidName, "migration [%s] has no name", mID)
		}

		return &Migration{
			ID:         mID,
			Name:       name,
			Forward:    forward,
			Reverse:    reverse,
			AuthoredAt: authoredAt,
		}, nil
	}
}

// Key is the id and the slug of the name joined by an underscore
func (m *Migration) Key() string {
	return CreateKey(m.ID, m.Name)
}

func (m *Migration) ForwardScripts() string {
	return joinScripts(m.Forward)
}

func (m *Migration) ReverseScripts() string {
	return joinScripts(m.Reverse)
}

func joinScripts(scripts []string) string {
	var ms bytes.Buffer

	for i := range scripts {
		ms.WriteString(scripts[i])

		if !strings.HasSuffix(scripts[i], ";") {
			ms.WriteString(";")
		}

		if i < len(scripts)-1 {
			ms.WriteString("\n")
		}
	}

	return ms.String()
}

// Validate checks that the id is a non empty string of ascii digits
func (id ID) Validate() error {
	if id == "" {
		return errors.Wrap(ErrInvalidID, "id is empty")
	}

	for _, r := range id {
		if r < '0' || r > '9' {
			return errors.Wrapf(ErrInvalidID, "[%s] must contain digits only", string(id))
		}
	}

	return nil
}

// Compare returns -1, 0 or 1 comparing the numeric values of two ids
func (id ID) Compare(other ID) int {
	a, b := id.Canonical(), other.Canonical()

	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}

	return strings.Compare(a, b)
}

func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

func (id ID) Equal(other ID) bool {
	return id.Compare(other) == 0
}

func (id ID) String() string {
	return string(id)
}

// Canonical is the id without leading zeros
func (id ID) Canonical() string {
	s := strings.TrimLeft(string(id), "0")
	if s == "" {
		return "0"
	}
	return s
}

type Migrations []*Migration

func NewMigrations(factories ...Factory) (Migrations, error) {
	migrations := make(Migrations, len(factories))

	for i := range factories {
		m, err := factories[i]()
		if err != nil {
			return nil, err
		}

		migrations[i] = m
	}

	return migrations, nil
}

func (m Migrations) Keys() (result []string) {
	for i := range m {
		result = append(result, m[i].Key())
	}
	return result
}

func (m Migrations) IDs() (result []string) {
	for i := range m {
		result = append(result, m[i].ID.String())
	}
	return result
}

func (m Migrations) Len() int {
	return len(m)
}

func (m Migrations) Less(i, j int) bool {
	return m[i].ID.Less(m[j].ID)
}

func (m Migrations) Swap(i, j int) {
	m[i], m[j] = m[j], m[i]
}

// CreateKey builds a migration key out of an id and a human readable name
func CreateKey(id ID, name string) string {
	var result bytes.Buffer
	result.WriteString(string(id))
	result.WriteString("_")
	result.WriteString(Slug(name))
	return result.String()
}

// Slug lowercases the name and replaces spaces and dashes with underscores
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "-", "_")
}
