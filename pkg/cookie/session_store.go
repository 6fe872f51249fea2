package cookie

import (
	"sort"
	"strconv"
	"strings"
)

const (
	allowedCookieSize        = 4096
	estimatedEmptyCookieSize = 160
	chunkSize                = allowedCookieSize - estimatedEmptyCookieSize
)

// SessionStore reads and writes the session token, splitting it over
// numbered cookies (name.0, name.1, ...) when it outgrows one cookie.
type SessionStore struct {
	def    Definition
	chunks map[string]string
}

func NewSessionStore(def Definition, reqCookies map[string]string) *SessionStore {
	chunks := make(map[string]string)
	for name, value := range reqCookies {
		if name == def.Name || (strings.HasPrefix(name, def.Name+".") && chunkIndex(def.Name, name) >= 0) {
			chunks[name] = value
		}
	}
	return &SessionStore{def: def, chunks: chunks}
}

// Value reassembles the token from whatever chunks the request carried.
func (s *SessionStore) Value() string {
	if v, ok := s.chunks[s.def.Name]; ok && len(s.chunks) == 1 {
		return v
	}

	names := make([]string, 0, len(s.chunks))
	for name := range s.chunks {
		if name != s.def.Name {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return s.chunks[s.def.Name]
	}
	sort.Slice(names, func(i, j int) bool {
		return chunkIndex(s.def.Name, names[i]) < chunkIndex(s.def.Name, names[j])
	})

	var b strings.Builder
	for _, name := range names {
		b.WriteString(s.chunks[name])
	}
	return b.String()
}

// Chunk returns the cookies that store value, plus clearing cookies for any
// previously stored chunk that is no longer needed.
func (s *SessionStore) Chunk(value string, opts Options) []Cookie {
	stale := s.clean()

	var cookies []Cookie
	if len(value) <= chunkSize {
		cookies = append(cookies, Cookie{Name: s.def.Name, Value: value, Options: opts})
	} else {
		for i := 0; i*chunkSize < len(value); i++ {
			end := min((i+1)*chunkSize, len(value))
			cookies = append(cookies, Cookie{
				Name:    s.def.Name + "." + strconv.Itoa(i),
				Value:   value[i*chunkSize : end],
				Options: opts,
			})
		}
	}

	for _, c := range cookies {
		s.chunks[c.Name] = c.Value
		delete(stale, c.Name)
	}

	names := make([]string, 0, len(stale))
	for name := range stale {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cookies = append(cookies, stale[name])
	}
	return cookies
}

// Clean returns clearing cookies for every chunk the store knows about.
func (s *SessionStore) Clean() []Cookie {
	stale := s.clean()
	names := make([]string, 0, len(stale))
	for name := range stale {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Cookie, 0, len(names))
	for _, name := range names {
		out = append(out, stale[name])
	}
	return out
}

func (s *SessionStore) clean() map[string]Cookie {
	cleared := make(map[string]Cookie, len(s.chunks))
	for name := range s.chunks {
		c := s.def.Clear()
		c.Name = name
		cleared[name] = c
		delete(s.chunks, name)
	}
	return cleared
}

func chunkIndex(base, name string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, base+"."))
	if err != nil || n < 0 {
		return -1
	}
	return n
}
