package compositor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/keagan/slopstudio/pkg/util"
	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

var familyAliases = map[string]string{
	"sans-serif":  "go",
	"arial":       "go",
	"helvetica":   "go",
	"inter":       "go",
	"monospace":   "go mono",
	"courier":     "go mono",
	"courier new": "go mono",
}

type faceKey struct {
	family string
	size   float64
	bold   bool
}

// FontBook resolves CSS-style family names to font faces. The Go fonts are
// always available; extra TTF/OTF files can be loaded from a directory.
// Faces are cached and are not safe for concurrent use.
type FontBook struct {
	logger  zerolog.Logger
	regular *opentype.Font
	bold    *opentype.Font

	mu       sync.Mutex
	families map[string]*opentype.Font
	faces    map[faceKey]font.Face
}

// NewFontBook parses the built-in fonts and any fonts found in dir
func NewFontBook(logger zerolog.Logger, dir string) (*FontBook, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse go regular: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse go bold: %w", err)
	}
	mono, err := opentype.Parse(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse go mono: %w", err)
	}

	fb := &FontBook{
		logger:  logger.With().Str("component", "fonts").Logger(),
		regular: regular,
		bold:    bold,
		families: map[string]*opentype.Font{
			"go":      regular,
			"go mono": mono,
		},
		faces: make(map[faceKey]font.Face),
	}

	if dir != "" {
		if err := fb.loadDir(dir); err != nil {
			return nil, err
		}
	}
	return fb, nil
}

func (fb *FontBook) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read font dir: %w", err)
	}

	var buf sfnt.Buffer
	for _, e := range entries {
		if e.IsDir() || !util.HasExtension(e.Name(), ".ttf", ".otf") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read font %s: %w", e.Name(), err)
		}
		f, err := opentype.Parse(data)
		if err != nil {
			fb.logger.Warn().Err(err).Str("file", e.Name()).Msg("skipping unparseable font")
			continue
		}

		fb.families[strings.ToLower(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))] = f
		if family, err := f.Name(&buf, sfnt.NameIDFamily); err == nil && family != "" {
			fb.families[strings.ToLower(family)] = f
		}
		fb.logger.Debug().Str("file", e.Name()).Msg("font loaded")
	}
	return nil
}

// Families lists every registered family name
func (fb *FontBook) Families() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	names := make([]string, 0, len(fb.families))
	for name := range fb.families {
		names = append(names, name)
	}
	return names
}

// Face returns a face for family at size pixels. Unknown families fall back
// to Go Regular, or Go Bold when bold is set.
func (fb *FontBook) Face(family string, size float64, bold bool) font.Face {
	key := faceKey{family: strings.ToLower(strings.TrimSpace(family)), size: size, bold: bold}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if f, ok := fb.faces[key]; ok {
		return f
	}

	name := key.family
	if alias, ok := familyAliases[name]; ok {
		name = alias
	}
	f, ok := fb.families[name]
	if !ok || (bold && f == fb.regular) {
		f = fb.regular
		if bold {
			f = fb.bold
		}
	}

	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		fb.logger.Warn().Err(err).Str("family", family).Msg("falling back to bitmap font")
		return basicfont.Face7x13
	}
	fb.faces[key] = face
	return face
}
