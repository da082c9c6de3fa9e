package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPermissionConstants(t *testing.T) {
	tests := []struct {
		name     string
		perm     os.FileMode
		expected os.FileMode
	}{
		{"PermConfigFile", PermConfigFile, 0640},
		{"PermLogFile", PermLogFile, 0640},
		{"PermDBFile", PermDBFile, 0640},
		{"PermDirectory", PermDirectory, 0750},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.perm != tt.expected {
				t.Errorf("%s = %04o, want %04o", tt.name, tt.perm, tt.expected)
			}
		})
	}
}

func TestOpenAppendFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "watcher.log")

	for _, line := range []string{"first\n", "second\n"} {
		file, err := OpenAppendFile(path, PermLogFile)
		if err != nil {
			t.Fatalf("OpenAppendFile() error = %v", err)
		}
		if _, err := file.WriteString(line); err != nil {
			file.Close()
			t.Fatalf("Failed to write: %v", err)
		}
		file.Close()
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "first\nsecond\n" {
		t.Errorf("content = %q, want both lines appended", content)
	}

	info, _ := os.Stat(path)
	if IsWorldReadable(info.Mode().Perm()) {
		t.Errorf("log file is world-readable (%04o)", info.Mode().Perm())
	}
}

func TestOpenAppendFile_MissingDir(t *testing.T) {
	_, err := OpenAppendFile(filepath.Join(t.TempDir(), "missing", "watcher.log"), PermLogFile)
	if err == nil {
		t.Error("OpenAppendFile() should fail when the directory does not exist")
	}
}

func TestIsWorldReadable(t *testing.T) {
	tests := []struct {
		perm os.FileMode
		want bool
	}{
		{0600, false},
		{0640, false},
		{0644, true},
		{0755, true},
	}

	for _, tt := range tests {
		if got := IsWorldReadable(tt.perm); got != tt.want {
			t.Errorf("IsWorldReadable(%04o) = %v, want %v", tt.perm, got, tt.want)
		}
	}
}

func TestIsWorldWritable(t *testing.T) {
	tests := []struct {
		perm os.FileMode
		want bool
	}{
		{0644, false},
		{0664, false},
		{0666, true},
		{0777, true},
	}

	for _, tt := range tests {
		if got := IsWorldWritable(tt.perm); got != tt.want {
			t.Errorf("IsWorldWritable(%04o) = %v, want %v", tt.perm, got, tt.want)
		}
	}
}

func TestValidateSecurePermissions(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		perm    os.FileMode
		wantErr bool
	}{
		{"secure 0600", 0600, false},
		{"secure 0640", 0640, false},
		{"secure 0660", 0660, false},
		{"world readable 0644", 0644, true},
		{"world writable 0666", 0666, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testFile := filepath.Join(tmpDir, "test-"+tt.name+".yml")
			if err := os.WriteFile(testFile, []byte("test"), 0600); err != nil {
				t.Fatalf("Failed to create test file: %v", err)
			}
			if err := os.Chmod(testFile, tt.perm); err != nil {
				t.Fatalf("Failed to chmod: %v", err)
			}

			err := ValidateSecurePermissions(testFile)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecurePermissions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSecurePermissions_NonexistentFile(t *testing.T) {
	err := ValidateSecurePermissions("/nonexistent/file.txt")
	if err == nil {
		t.Errorf("ValidateSecurePermissions() should fail for nonexistent file")
	}
}
