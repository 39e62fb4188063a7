package registry

import "github.com/starford/muninn/internal/models"

// Default vault seeded on first run and whenever the registry would
// otherwise become empty.
const (
	DefaultVaultID   = "default"
	DefaultVaultName = "My Vault"
)

const welcomeFileID = "welcome-md"

const welcomeContent = `# Welcome to Muninn

This is your local-first second brain.

### Features:
- **Local-first**: Your data stays on this machine.
- **Vaults**: Isolated knowledge bases you can switch between instantly.
- **Markdown**: Full support for your favorite syntax.
`

// seedFiles returns the default node map for a freshly seeded vault.
func seedFiles(now int64) map[string]models.FileNode {
	return map[string]models.FileNode{
		welcomeFileID: {
			ID:        welcomeFileID,
			Name:      "Welcome.md",
			Kind:      models.KindFile,
			Content:   welcomeContent,
			Parent:    models.Root(),
			UpdatedAt: now,
			History:   []models.HistoryEntry{},
		},
	}
}
