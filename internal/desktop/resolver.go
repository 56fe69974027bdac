// Package desktop resolves application ids to freedesktop desktop entries.
package desktop

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/bryanchriswhite/windock/internal/logger"
	"github.com/bryanchriswhite/windock/internal/toplevel"
	"gopkg.in/ini.v1"
)

// ErrNotFound is returned by Lookup when no desktop entry matches
var ErrNotFound = errors.New("desktop entry not found")

// FallbackIcon is used when no entry or icon can be found
const FallbackIcon = "application-x-executable"

// Options configures a Resolver
type Options struct {
	// DataDirs are searched in order; empty means XDG_DATA_HOME then XDG_DATA_DIRS
	DataDirs  []string
	IconTheme string
	IconSize  int
}

type desktopFile struct {
	id   string
	path string
}

// Resolver maps app ids to metadata. The desktop-file index is built on
// first use; call Reload to pick up newly installed applications.
type Resolver struct {
	dataDirs  []string
	iconTheme string
	iconSize  int

	mu      sync.Mutex
	indexed bool
	files   []desktopFile
	byID    map[string]desktopFile
	byClass map[string]desktopFile
}

// NewResolver creates a resolver
func NewResolver(opts Options) *Resolver {
	dirs := opts.DataDirs
	if len(dirs) == 0 {
		dirs = append([]string{xdg.DataHome}, xdg.DataDirs...)
	}
	size := opts.IconSize
	if size <= 0 {
		size = 48
	}
	return &Resolver{
		dataDirs:  dirs,
		iconTheme: opts.IconTheme,
		iconSize:  size,
	}
}

// Resolve never fails: unknown apps get a generic entry named after the app id
func (r *Resolver) Resolve(appID string) toplevel.Metadata {
	md, err := r.Lookup(appID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.WithComponent("desktop").Warn().Err(err).Str("app_id", appID).Msg("Desktop entry lookup failed")
		}
		md = toplevel.Metadata{
			AppID: appID,
			Name:  appID,
			Icon:  FallbackIcon,
		}
		md.IconPath = r.findIcon(md.Icon)
	}
	return md
}

// Lookup finds the desktop entry for appID
func (r *Resolver) Lookup(appID string) (toplevel.Metadata, error) {
	if appID == "" {
		return toplevel.Metadata{}, ErrNotFound
	}

	df, ok := r.match(appID)
	if !ok {
		return toplevel.Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, appID)
	}

	entry, err := parseEntry(df.path)
	if err != nil {
		return toplevel.Metadata{}, err
	}

	md := toplevel.Metadata{
		AppID:       appID,
		Name:        entry.name,
		Icon:        entry.icon,
		Exec:        entry.exec,
		DesktopFile: df.path,
	}
	if md.Name == "" {
		md.Name = appID
	}
	if md.Icon == "" {
		md.Icon = FallbackIcon
	}
	md.IconPath = r.findIcon(md.Icon)
	return md, nil
}

// Reload drops the desktop-file index
func (r *Resolver) Reload() {
	r.mu.Lock()
	r.indexed = false
	r.mu.Unlock()
}

// match tries, in order: the desktop id itself, the last component of a
// reverse-DNS id, and StartupWMClass. All comparisons ignore case.
func (r *Resolver) match(appID string) (desktopFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.indexed {
		r.buildIndex()
	}

	key := strings.ToLower(appID)
	if df, ok := r.byID[key]; ok {
		return df, true
	}
	for _, df := range r.files {
		id := strings.ToLower(df.id)
		if i := strings.LastIndex(id, "."); i >= 0 && id[i+1:] == key {
			return df, true
		}
	}
	if df, ok := r.byClass[key]; ok {
		return df, true
	}
	return desktopFile{}, false
}

// buildIndex walks <dir>/applications for every data dir. Earlier dirs
// shadow later ones, and hidden entries shadow without being usable.
func (r *Resolver) buildIndex() {
	log := logger.WithComponent("desktop")

	r.files = nil
	r.byID = make(map[string]desktopFile)
	r.byClass = make(map[string]desktopFile)
	seen := make(map[string]bool)

	for _, dir := range r.dataDirs {
		appsDir := filepath.Join(dir, "applications")
		filepath.WalkDir(appsDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() || !strings.HasSuffix(path, ".desktop") {
				return nil
			}

			rel, err := filepath.Rel(appsDir, path)
			if err != nil {
				return nil
			}
			// Desktop file ids replace path separators with '-'
			id := strings.TrimSuffix(strings.ReplaceAll(rel, string(filepath.Separator), "-"), ".desktop")
			key := strings.ToLower(id)
			if seen[key] {
				return nil
			}
			seen[key] = true

			entry, err := parseEntry(path)
			if err != nil {
				log.Debug().Err(err).Str("path", path).Msg("Skipping desktop file")
				return nil
			}
			if entry.hidden {
				return nil
			}

			df := desktopFile{id: id, path: path}
			r.files = append(r.files, df)
			r.byID[key] = df
			if entry.wmClass != "" {
				class := strings.ToLower(entry.wmClass)
				if _, exists := r.byClass[class]; !exists {
					r.byClass[class] = df
				}
			}
			return nil
		})
	}

	r.indexed = true
	log.Debug().Int("entries", len(r.files)).Msg("Indexed desktop entries")
}

type entry struct {
	name    string
	icon    string
	exec    string
	wmClass string
	hidden  bool
}

func parseEntry(path string) (entry, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, path)
	if err != nil {
		return entry{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	sec, err := cfg.GetSection("Desktop Entry")
	if err != nil {
		return entry{}, fmt.Errorf("%s: no [Desktop Entry] group", path)
	}

	return entry{
		name:    sec.Key("Name").String(),
		icon:    sec.Key("Icon").String(),
		exec:    sec.Key("Exec").String(),
		wmClass: sec.Key("StartupWMClass").String(),
		hidden:  sec.Key("Hidden").MustBool(false),
	}, nil
}

// findIcon resolves an icon name to a file, or returns "" if none exists
func (r *Resolver) findIcon(icon string) string {
	if icon == "" {
		return ""
	}
	if filepath.IsAbs(icon) {
		if fileExists(icon) {
			return icon
		}
		return ""
	}

	themes := []string{}
	if r.iconTheme != "" {
		themes = append(themes, r.iconTheme)
	}
	themes = append(themes, "hicolor")

	sizes := []int{r.iconSize, 256, 128, 64, 48, 32}

	for _, theme := range themes {
		for _, dir := range r.dataDirs {
			base := filepath.Join(dir, "icons", theme)
			for _, size := range sizes {
				p := filepath.Join(base, fmt.Sprintf("%dx%d", size, size), "apps", icon+".png")
				if fileExists(p) {
					return p
				}
			}
			p := filepath.Join(base, "scalable", "apps", icon+".svg")
			if fileExists(p) {
				return p
			}
		}
	}

	for _, dir := range r.dataDirs {
		for _, ext := range []string{".png", ".svg", ".xpm"} {
			p := filepath.Join(dir, "pixmaps", icon+ext)
			if fileExists(p) {
				return p
			}
		}
	}
	return ""
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
