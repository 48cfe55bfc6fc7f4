package migration

import (
	"sort"
	"testing"
	"testing/fstest"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_MigrationCanAssembleScriptsInOne(t *testing.T) {
	tt := []struct {
		name           string
		forward        []string
		forwardScripts string
		reverse        []string
		reverseScripts string
	}{
		{
			name:           "single scripts with no trailing semicolon",
			forward:        []string{"CREATE foo"},
			forwardScripts: "CREATE foo;",
			reverse:        []string{"DROP foo"},
			reverseScripts: "DROP foo;",
		},
		{
			name:           "two scripts with one with trailing semicolon",
			forward:        []string{"CREATE TABLE foo;", "INSERT INTO foo (name) VALUES (?)"},
			forwardScripts: "CREATE TABLE foo;\nINSERT INTO foo (name) VALUES (?);",
			reverse:        []string{"DROP TABLE foo"},
			reverseScripts: "DROP TABLE foo;",
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			m := Migration{
				Forward: tc.forward,
				Reverse: tc.reverse,
			}

			assert.Equal(t, tc.forwardScripts, m.ForwardScripts())
			assert.Equal(t, tc.reverseScripts, m.ReverseScripts())
		})
	}
}

func Test_IDsAreComparedNumerically(t *testing.T) {
	tt := []struct {
		a, b ID
		want int
	}{
		{a: "001", b: "002", want: -1},
		{a: "010", b: "009", want: 1},
		{a: "1", b: "001", want: 0},
		{a: "0", b: "000", want: 0},
		{a: "99", b: "100", want: -1},
		{a: "20260101120000", b: "20251231235959", want: 1},
	}

	for _, tc := range tt {
		assert.Equal(t, tc.want, tc.a.Compare(tc.b), "%s vs %s", tc.a, tc.b)
	}
}

func Test_MigrationsCanBeSortedByID(t *testing.T) {
	migrations, err := NewMigrations(
		New("010", "Baz migration", []string{"CREATE baz"}, []string{"DROP baz"}),
		New("002", "Bar migration", []string{"CREATE bar"}, []string{"DROP bar"}),
		New("009", "Foo migration", []string{"CREATE foo"}, []string{"DROP foo"}),
	)
	require.NoError(t, err)

	sort.Sort(migrations)

	assert.Equal(t, []string{"002", "009", "010"}, migrations.IDs())
	assert.Equal(t, []string{"002_bar_migration", "009_foo_migration", "010_baz_migration"}, migrations.Keys())
}

func Test_NewRejectsInvalidInput(t *testing.T) {
	t.Run("non digit id", func(t *testing.T) {
		_, err := New("00a", "foo", nil, nil)()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidID))
	})

	t.Run("empty id", func(t *testing.T) {
		_, err := New("", "foo", nil, nil)()
		assert.True(t, errors.Is(err, ErrInvalidID))
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := New("001", "  ", nil, nil)()
		assert.True(t, errors.Is(err, ErrInvalidName))
	})
}

func Test_Registry(t *testing.T) {
	t.Run("it iterates in ascending id order regardless of declaration order", func(t *testing.T) {
		r, err := NewRegistry(
			New("003", "three", nil, nil),
			New("001", "one", nil, nil),
			New("002", "two", nil, nil),
		)
		require.NoError(t, err)

		assert.Equal(t, []string{"001", "002", "003"}, r.All().IDs())
		assert.Equal(t, []string{"001", "002", "003"}, r.All().IDs(), "all is restartable")
		assert.Equal(t, 3, r.Len())
	})

	t.Run("all returns a copy", func(t *testing.T) {
		r := MustRegistry(New("001", "one", nil, nil), New("002", "two", nil, nil))

		all := r.All()
		all[0], all[1] = all[1], all[0]

		assert.Equal(t, []string{"001", "002"}, r.IDs())
	})

	t.Run("validate passes for a well formed registry", func(t *testing.T) {
		r := MustRegistry(New("001", "one", nil, nil), New("002", "two", nil, nil))
		assert.NoError(t, r.Validate())
	})

	t.Run("validate detects duplicate ids", func(t *testing.T) {
		r := MustRegistry(
			New("001", "one", nil, nil),
			New("002", "two", nil, nil),
			New("2", "another two", nil, nil),
		)

		err := r.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicateID))

		var dupErr *DuplicateIDError
		require.True(t, errors.As(err, &dupErr))
		assert.True(t, dupErr.ID.Equal("002"))
	})

	t.Run("validate detects non monotonic declarations", func(t *testing.T) {
		r := MustRegistry(
			New("001", "one", nil, nil),
			New("003", "three", nil, nil),
			New("002", "two", nil, nil),
		)

		err := r.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNonMonotonic))

		var nmErr *NonMonotonicError
		require.True(t, errors.As(err, &nmErr))
		assert.Equal(t, ID("003"), nmErr.Previous)
		assert.Equal(t, ID("002"), nmErr.Next)
	})

	t.Run("find uses numeric comparison", func(t *testing.T) {
		r := MustRegistry(New("001", "one", nil, nil), New("010", "ten", nil, nil))

		m, ok := r.Find("10")
		require.True(t, ok)
		assert.Equal(t, "ten", m.Name)

		_, ok = r.Find("002")
		assert.False(t, ok)
	})
}

func Test_Generate(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 30, 0, 0, time.UTC)

	t.Run("first migration of an empty registry", func(t *testing.T) {
		r := MustRegistry()

		tpl, err := r.Generate("Create users", now)
		require.NoError(t, err)

		assert.Equal(t, ID("001"), tpl.ID)
		assert.Equal(t, "001_create_users", tpl.Key())
		assert.Equal(t, "001_create_users.migrate.sql", tpl.MigrateFile())
		assert.Equal(t, "001_create_users.rollback.sql", tpl.RollbackFile())
		assert.Equal(t, now, tpl.AuthoredAt)
	})

	t.Run("next id keeps the existing width", func(t *testing.T) {
		r := MustRegistry(New("0008", "a", nil, nil), New("0009", "b", nil, nil))

		tpl, err := r.Generate("c", now)
		require.NoError(t, err)
		assert.Equal(t, ID("0010"), tpl.ID)
	})

	t.Run("next id grows past the width", func(t *testing.T) {
		r := MustRegistry(New("999", "a", nil, nil))

		tpl, err := r.Generate("b", now)
		require.NoError(t, err)
		assert.Equal(t, ID("1000"), tpl.ID)
	})

	t.Run("invalid names are rejected", func(t *testing.T) {
		r := MustRegistry()

		_, err := r.Generate("", now)
		assert.True(t, errors.Is(err, ErrInvalidName))

		_, err = r.Generate("drop; table", now)
		assert.True(t, errors.Is(err, ErrInvalidName))
	})

	t.Run("scaffold carries the authoring time", func(t *testing.T) {
		tpl, err := MustRegistry().Generate("audit", now)
		require.NoError(t, err)

		assert.Equal(t, now, parseAuthoredAt(tpl.MigrateScript()))
		assert.Empty(t, SplitStatements(tpl.MigrateScript()))
		assert.Empty(t, SplitStatements(tpl.RollbackScript()))
	})
}

func Test_FromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_create_bar.migrate.sql": &fstest.MapFile{
			Data: []byte("-- authored_at: 2026-01-02T03:04:05Z\nCREATE TABLE bar (\n  id INTEGER PRIMARY KEY\n);\nCREATE INDEX bar_idx ON bar (id);\n"),
		},
		"migrations/002_create_bar.rollback.sql": &fstest.MapFile{
			Data: []byte("DROP TABLE bar;\n"),
		},
		"migrations/001_create_foo.migrate.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE foo (id INTEGER PRIMARY KEY);"),
		},
		"migrations/README.md": &fstest.MapFile{Data: []byte("docs")},
	}

	t.Run("it reads migrations and their rollbacks", func(t *testing.T) {
		factories, err := FromFS(fsys, "migrations")
		require.NoError(t, err)

		r, err := NewRegistry(factories...)
		require.NoError(t, err)
		require.NoError(t, r.Validate())
		require.Equal(t, 2, r.Len())

		foo, ok := r.Find("001")
		require.True(t, ok)
		assert.Equal(t, "create_foo", foo.Name)
		assert.Equal(t, []string{"CREATE TABLE foo (id INTEGER PRIMARY KEY);"}, foo.Forward)
		assert.Empty(t, foo.Reverse)
		assert.True(t, foo.AuthoredAt.IsZero())

		bar, ok := r.Find("002")
		require.True(t, ok)
		assert.Equal(t, []string{"CREATE TABLE bar (\n  id INTEGER PRIMARY KEY\n);", "CREATE INDEX bar_idx ON bar (id);"}, bar.Forward)
		assert.Equal(t, []string{"DROP TABLE bar;"}, bar.Reverse)
		assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), bar.AuthoredAt)
	})

	t.Run("ids of different widths load in numeric order", func(t *testing.T) {
		folder := fstest.MapFS{
			"998_a.migrate.sql": &fstest.MapFile{Data: []byte("CREATE TABLE a (id INTEGER);")},
			"999_b.migrate.sql": &fstest.MapFile{Data: []byte("CREATE TABLE b (id INTEGER);")},
			"9_c.migrate.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE c (id INTEGER);")},
		}

		factories, err := FromFS(folder, ".")
		require.NoError(t, err)

		r, err := NewRegistry(factories...)
		require.NoError(t, err)
		require.NoError(t, r.Validate())

		tpl, err := r.Generate("d", time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, "1000_d.migrate.sql", tpl.MigrateFile())

		folder[tpl.MigrateFile()] = &fstest.MapFile{Data: []byte(tpl.MigrateScript())}
		folder[tpl.RollbackFile()] = &fstest.MapFile{Data: []byte(tpl.RollbackScript())}

		factories, err = FromFS(folder, ".")
		require.NoError(t, err)

		r, err = NewRegistry(factories...)
		require.NoError(t, err)
		require.NoError(t, r.Validate())
		assert.Equal(t, []string{"9", "998", "999", "1000"}, r.IDs())
	})

	t.Run("a rollback file without a migrate file is an error", func(t *testing.T) {
		_, err := FromFS(fstest.MapFS{
			"003_orphan.rollback.sql": &fstest.MapFile{Data: []byte("DROP TABLE x;")},
		}, ".")

		assert.True(t, errors.Is(err, ErrMissingMigrateFile))
	})

	t.Run("a badly named migration file is an error", func(t *testing.T) {
		_, err := FromFS(fstest.MapFS{
			"create_x.migrate.sql": &fstest.MapFile{Data: []byte("CREATE TABLE x;")},
		}, ".")

		assert.True(t, errors.Is(err, ErrInvalidID))
	})
}
