package importagent

import "os"

// Outputs names the four output directory locations the orchestrator
// writes into.
type Outputs struct {
	OutputDir  string // where finalized, non-extraction artifacts land
	ImportDir  string // reserved for import-side artifacts (e.g. logs)
	ExtractDir string // archive members land at ExtractDir/<fullName>
	TempDir    string // backing directory for internal/orcstream.TempBuffer
}

func (o Outputs) ensureDirs() error {
	for _, d := range []string{o.OutputDir, o.ImportDir, o.ExtractDir, o.TempDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
