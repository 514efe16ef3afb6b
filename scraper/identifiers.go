package scraper

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var ErrNoIdentifiers = errors.New("no subscription identifiers found")

// ParseIdentifiers reads one identifier per line. Blank lines and lines
// starting with '#' are ignored; surrounding whitespace is trimmed.
func ParseIdentifiers(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func LoadIdentifiers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open subscription file: %w", err)
	}
	defer f.Close()

	ids, err := ParseIdentifiers(f)
	if err != nil {
		return nil, fmt.Errorf("read subscription file %s: %w", path, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoIdentifiers)
	}
	return ids, nil
}
