package proxypool

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/guttosm/equitypanel/internal/domain/errs"
	"github.com/guttosm/equitypanel/internal/domain/models"
)

// Parse reads a line-oriented proxy list.
//
// Accepted line shapes:
//   - host:port:username:password (the format proxy vendors export)
//   - host:port
//
// Blank lines and lines starting with '#' are ignored. Any other shape, a
// non-numeric port, or a list with no entries is an errs.ErrConfig.
func Parse(r io.Reader) ([]models.Proxy, error) {
	var out []models.Proxy

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		p, err := parseLine(s)
		if err != nil {
			return nil, fmt.Errorf("proxy list line %d: %w", line, err)
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}
	if len(out) == 0 {
		return nil, errs.Configf("proxy list is empty")
	}
	return out, nil
}

func parseLine(s string) (models.Proxy, error) {
	parts := strings.Split(s, ":")
	var p models.Proxy
	switch len(parts) {
	case 2:
		p = models.Proxy{Host: parts[0], Port: parts[1]}
	case 4:
		p = models.Proxy{Host: parts[0], Port: parts[1], Username: parts[2], Password: parts[3]}
		if p.Username == "" {
			return p, errs.Configf("empty username in %q", s)
		}
	default:
		return p, errs.Configf("expected host:port[:user:password], got %d fields", len(parts))
	}
	if p.Host == "" {
		return p, errs.Configf("empty host")
	}
	if n, err := strconv.Atoi(p.Port); err != nil || n < 1 || n > 65535 {
		return p, errs.Configf("invalid port %q", p.Port)
	}
	return p, nil
}

// LoadFile parses the proxy list at path. A missing file is an errs.ErrConfig.
func LoadFile(path string) ([]models.Proxy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Configf("open proxy list %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}
