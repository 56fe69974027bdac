package desktop

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func fixture(t *testing.T) (home, system string) {
	t.Helper()
	home = t.TempDir()
	system = t.TempDir()

	writeFile(t, filepath.Join(system, "applications", "firefox.desktop"), `[Desktop Entry]
Type=Application
Name=Firefox Web Browser
Name[de]=Firefox-Webbrowser
Exec=firefox %u
Icon=firefox
`)
	writeFile(t, filepath.Join(system, "applications", "org.gnome.Nautilus.desktop"), `[Desktop Entry]
Type=Application
Name=Files
Icon=org.gnome.Nautilus
`)
	writeFile(t, filepath.Join(system, "applications", "visual-studio-code.desktop"), `[Desktop Entry]
Type=Application
Name=Visual Studio Code
Icon=vscode
StartupWMClass=Code
`)
	writeFile(t, filepath.Join(system, "applications", "kde", "kate.desktop"), `[Desktop Entry]
Type=Application
Name=Kate
Icon=kate
`)
	writeFile(t, filepath.Join(system, "applications", "secret.desktop"), `[Desktop Entry]
Type=Application
Name=Secret
`)
	// User entry shadows the system one and hides it
	writeFile(t, filepath.Join(home, "applications", "secret.desktop"), `[Desktop Entry]
Type=Application
Name=Secret
Hidden=true
`)
	writeFile(t, filepath.Join(home, "applications", "broken.desktop"), "no groups here\n")

	writeFile(t, filepath.Join(system, "icons", "hicolor", "48x48", "apps", "firefox.png"), "png")
	writeFile(t, filepath.Join(system, "icons", "hicolor", "scalable", "apps", "org.gnome.Nautilus.svg"), "<svg/>")
	writeFile(t, filepath.Join(system, "pixmaps", "vscode.png"), "png")
	return home, system
}

func TestLookup(t *testing.T) {
	home, system := fixture(t)
	r := NewResolver(Options{DataDirs: []string{home, system}, IconSize: 48})

	tests := []struct {
		appID    string
		wantName string
		wantIcon string
		iconFile string
	}{
		{"firefox", "Firefox Web Browser", "firefox", filepath.Join(system, "icons", "hicolor", "48x48", "apps", "firefox.png")},
		{"Firefox", "Firefox Web Browser", "firefox", filepath.Join(system, "icons", "hicolor", "48x48", "apps", "firefox.png")},
		{"nautilus", "Files", "org.gnome.Nautilus", filepath.Join(system, "icons", "hicolor", "scalable", "apps", "org.gnome.Nautilus.svg")},
		{"Code", "Visual Studio Code", "vscode", filepath.Join(system, "pixmaps", "vscode.png")},
		{"kde-kate", "Kate", "kate", ""},
	}

	for _, tt := range tests {
		t.Run(tt.appID, func(t *testing.T) {
			md, err := r.Lookup(tt.appID)
			if err != nil {
				t.Fatalf("Lookup(%q) error: %v", tt.appID, err)
			}
			if md.Name != tt.wantName {
				t.Fatalf("Name = %q, want %q", md.Name, tt.wantName)
			}
			if md.Icon != tt.wantIcon {
				t.Fatalf("Icon = %q, want %q", md.Icon, tt.wantIcon)
			}
			if md.IconPath != tt.iconFile {
				t.Fatalf("IconPath = %q, want %q", md.IconPath, tt.iconFile)
			}
			if md.AppID != tt.appID {
				t.Fatalf("AppID = %q, want %q", md.AppID, tt.appID)
			}
		})
	}
}

func TestLookup_HiddenAndMissing(t *testing.T) {
	home, system := fixture(t)
	r := NewResolver(Options{DataDirs: []string{home, system}})

	for _, id := range []string{"secret", "nope", ""} {
		if _, err := r.Lookup(id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Lookup(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestResolve_FallsBackToAppID(t *testing.T) {
	home, system := fixture(t)
	r := NewResolver(Options{DataDirs: []string{home, system}})

	md := r.Resolve("xterm")
	if md.Name != "xterm" || md.Icon != FallbackIcon || md.AppID != "xterm" {
		t.Fatalf("Resolve(xterm) = %+v, want fallback entry", md)
	}
}

func TestReload_PicksUpNewEntries(t *testing.T) {
	home, system := fixture(t)
	r := NewResolver(Options{DataDirs: []string{home, system}})

	if _, err := r.Lookup("gimp"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup(gimp) error = %v, want ErrNotFound", err)
	}

	writeFile(t, filepath.Join(home, "applications", "gimp.desktop"), "[Desktop Entry]\nName=GIMP\nIcon=gimp\n")
	r.Reload()

	md, err := r.Lookup("gimp")
	if err != nil {
		t.Fatalf("Lookup(gimp) after Reload error: %v", err)
	}
	if md.Name != "GIMP" {
		t.Fatalf("Name = %q, want GIMP", md.Name)
	}
}
