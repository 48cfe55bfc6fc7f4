package migration

import (
	"bufio"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrNotAMigrationFile = errors.New("not a migration file")
var ErrMissingMigrateFile = errors.New("rollback file has no matching migrate file")

var keyRegexp = regexp.MustCompile(`^(?P<id>\d{1,20})_(?P<name>\w[\w-]*)$`)

type fileSet struct {
	migrate  string
	rollback string
	hasUp    bool
}

// FromFS reads migration factories out of a folder of a file system.
// Every migration is a <id>_<name>.migrate.sql file with an optional
// <id>_<name>.rollback.sql companion. Files with other extensions are ignored.
func FromFS(fsys fs.FS, dir string) ([]Factory, error) {
	if dir == "" {
		dir = "."
	}

	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read migrations from folder %s", dir)
	}

	sets := make(map[string]*fileSet)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		key, suffix, err := ParseFilename(entry.Name())
		if err != nil {
			if errors.Is(err, ErrNotAMigrationFile) {
				continue
			}
			return nil, err
		}

		contents, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "could not read file %s", entry.Name())
		}

		set, ok := sets[key]
		if !ok {
			set = &fileSet{}
			sets[key] = set
		}

		if suffix == MigrateFileExtension {
			set.migrate = string(contents)
			set.hasUp = true
		} else {
			set.rollback = string(contents)
		}
	}

	keys := make([]string, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keyID(keys[i]), keyID(keys[j])
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Less(b)
	})

	factories := make([]Factory, 0, len(keys))
	for _, key := range keys {
		set := sets[key]
		if !set.hasUp {
			return nil, errors.Wrapf(ErrMissingMigrateFile, "%s", key)
		}

		matches := keyRegexp.FindStringSubmatch(key)
		authoredAt := parseAuthoredAt(set.migrate)

		factories = append(factories, NewAuthored(
			matches[1],
			matches[2],
			authoredAt,
			SplitStatements(set.migrate),
			SplitStatements(set.rollback),
		))
	}

	return factories, nil
}

func keyID(key string) ID {
	return ID(keyRegexp.FindStringSubmatch(key)[1])
}

// ParseFilename splits a migration file name into its key and extension
func ParseFilename(filename string) (string, string, error) {
	var key, suffix string

	switch {
	case strings.HasSuffix(filename, MigrateFileExtension):
		key, suffix = strings.TrimSuffix(filename, MigrateFileExtension), MigrateFileExtension
	case strings.HasSuffix(filename, RollbackFileExtension):
		key, suffix = strings.TrimSuffix(filename, RollbackFileExtension), RollbackFileExtension
	default:
		return "", "", errors.Wrapf(ErrNotAMigrationFile, "%s", filename)
	}

	if !keyRegexp.MatchString(key) {
		return "", "", errors.Wrapf(ErrInvalidID, "file %s is not named <id>_<name>", filename)
	}

	return key, suffix, nil
}

// SplitStatements breaks a script into statements at lines ending with
// a semicolon. Lines holding only a comment are dropped.
func SplitStatements(script string) []string {
	var result []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			result = append(result, stmt)
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(script))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	flush()

	return result
}

func parseAuthoredAt(script string) time.Time {
	firstLine := script
	if i := strings.IndexByte(script, '\n'); i >= 0 {
		firstLine = script[:i]
	}

	firstLine = strings.TrimSpace(firstLine)
	if !strings.HasPrefix(firstLine, AuthoredAtHeader) {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(firstLine, AuthoredAtHeader)))
	if err != nil {
		return time.Time{}
	}

	return t
}
