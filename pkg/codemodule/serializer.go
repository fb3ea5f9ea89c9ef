package codemodule

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mamaar/vbarefactor/pkg/types"
)

// BackupSuffix is appended to a module's path to name its backup.
const BackupSuffix = ".backup"

// Save writes every dirty module back to its file. With backup set, the
// previous file content is copied next to it first. It returns the paths
// written.
func (p *Project) Save(backup bool) ([]string, error) {
	var written []string
	for _, b := range p.Modules() {
		if !b.Dirty() || b.path == "" {
			continue
		}
		if backup {
			if _, err := BackupFile(b.path); err != nil {
				return written, &types.RefactorError{
					Type:    types.FileSystemError,
					Message: fmt.Sprintf("failed to back up %s: %v", b.path, err),
					Module:  b.name.String(),
					Cause:   err,
				}
			}
		}
		if err := WriteModule(b); err != nil {
			return written, err
		}
		written = append(written, b.path)
		p.logger.Info("saved module", "module", b.name.String(), "path", b.path, "backup", backup)
	}
	return written, nil
}

// WriteModule writes a buffer's header and code to its file.
func WriteModule(b *Buffer) error {
	if err := os.WriteFile(b.path, []byte(b.Contents()), 0644); err != nil {
		return &types.RefactorError{
			Type:    types.FileSystemError,
			Message: fmt.Sprintf("failed to write file: %v", err),
			Module:  b.name.String(),
			Cause:   err,
		}
	}
	b.markSaved()
	return nil
}

// BackupFile creates a backup of a file before modifications
func BackupFile(filePath string) (string, error) {
	backupPath := filePath + BackupSuffix

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		// A module that was never saved gets an empty backup
		if os.IsNotExist(err) {
			if err := os.WriteFile(backupPath, []byte(""), 0644); err != nil {
				return "", fmt.Errorf("failed to create empty backup for new file: %w", err)
			}
			return backupPath, nil
		}
		return "", fmt.Errorf("failed to read original file: %w", err)
	}

	if err := os.WriteFile(backupPath, content, 0644); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	return backupPath, nil
}

// RestoreFromBackup restores a file from its backup
func RestoreFromBackup(filePath, backupPath string) error {
	content, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("failed to restore file: %w", err)
	}

	return nil
}

// Preview renders the unsaved changes of every dirty module as unified
// diffs against the content last loaded or saved.
func (p *Project) Preview() (string, error) {
	var out string
	for _, b := range p.Modules() {
		if !b.Dirty() {
			continue
		}
		name := b.name.ComponentName
		if b.path != "" && p.Root != "" {
			if rel, err := filepath.Rel(p.Root, b.path); err == nil {
				name = filepath.ToSlash(rel)
			}
		}
		d, err := UnifiedDiff(name, b.Baseline(), b.Contents())
		if err != nil {
			return "", err
		}
		out += d
	}
	return out, nil
}
