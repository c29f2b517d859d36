package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittoauth/internal/cli/output"
	"github.com/marmos91/dittoauth/pkg/auth"
	"github.com/marmos91/dittoauth/pkg/auth/rack"
)

var mechanismsOutput string

var mechanismsCmd = &cobra.Command{
	Use:   "mechanisms",
	Short: "List available authentication mechanisms",
	Long: `List the mechanisms linked into the binary and the plugins found in the
plugin directory. The configured mechanism is marked with '*'.

Examples:
  dittoauth mechanisms
  dittoauth mechanisms --plugin-dir /opt/dittoauth/plugins -o json`,
	RunE: runMechanisms,
}

func init() {
	mechanismsCmd.Flags().StringVarP(&mechanismsOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// MechanismInfo is one row of the mechanisms listing.
type MechanismInfo struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`
	Source      string `json:"source" yaml:"source"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	Selected    bool   `json:"selected" yaml:"selected"`
}

// MechanismList renders as a table.
type MechanismList []MechanismInfo

func (l MechanismList) Headers() []string {
	return []string{"", "Type", "Source", "Description"}
}

func (l MechanismList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, m := range l {
		mark := ""
		if m.Selected {
			mark = "*"
		}
		rows = append(rows, []string{mark, m.Type, m.Source, m.Description})
	}
	return rows
}

func newMechanismList(descs []rack.Descriptor, selected string) MechanismList {
	list := make(MechanismList, 0, len(descs))
	for _, d := range descs {
		list = append(list, MechanismInfo{
			Type:        d.Type,
			Description: d.Description,
			Source:      d.Source,
			Path:        d.Path,
			Selected:    d.Type == selected,
		})
	}
	return list
}

func runMechanisms(cmd *cobra.Command, _ []string) error {
	format, err := output.ParseFormat(mechanismsOutput)
	if err != nil {
		return err
	}

	c, err := auth.NewContext(cfg.Auth.Type,
		auth.WithLoader(authLoader),
		auth.WithPluginDir(cfg.Auth.PluginDir),
	)
	if err != nil {
		return err
	}
	defer func() { _ = c.Destroy() }()

	descs, err := c.Mechanisms(cmd.Context())
	if err != nil {
		return err
	}
	return output.Print(cmd.OutOrStdout(), format, newMechanismList(descs, cfg.Auth.Type))
}
