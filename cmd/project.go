package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/intel-cli/internal/model"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage research projects",
}

// -- project create --

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project from flags or a YAML file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		p, err := projectFromFlags(cmd)
		if err != nil {
			return err
		}
		if strings.TrimSpace(p.Name) == "" {
			return eris.New("project name is required (--name or name: in --file)")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.CreateProject(ctx, p); err != nil {
			return eris.Wrap(err, "project create")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

// -- project list --

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		projects, err := st.ListProjects(ctx)
		if err != nil {
			return eris.Wrap(err, "project list")
		}
		if len(projects) == 0 {
			fmt.Fprintln(os.Stderr, "No projects found.")
			return nil
		}
		formatProjects(os.Stdout, projects)
		return nil
	},
}

func init() {
	addProjectFlags(projectCreateCmd)

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	rootCmd.AddCommand(projectCmd)
}

func addProjectFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("file", "", "YAML file describing the project")
	f.String("name", "", "product name")
	f.String("category", "", "product category")
	f.String("industry", "", "industry, used to pick the vertical profile")
	f.String("sub-industry", "", "sub-industry")
	f.String("description", "", "short product description")
	f.StringSlice("keywords", nil, "feature keywords (comma separated)")
	f.StringSlice("competitors", nil, "known competitor names (comma separated)")
	f.StringSlice("segments", nil, "target segments (comma separated)")
	f.StringSlice("regions", nil, "target regions (comma separated)")
	f.Bool("monitoring", false, "enable weekly automatic re-runs when served")
}

// projectFromFlags builds a project from --file, then overlays any flags
// that were set explicitly.
func projectFromFlags(cmd *cobra.Command) (*model.Project, error) {
	p := &model.Project{}
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "open project file")
		}
		defer f.Close() //nolint:errcheck
		if p, err = decodeProject(f); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	list := func(name string, dst *[]string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetStringSlice(name)
		}
	}
	str("name", &p.Name)
	str("category", &p.Category)
	str("industry", &p.Industry)
	str("sub-industry", &p.SubIndustry)
	str("description", &p.Description)
	list("keywords", &p.Keywords)
	list("competitors", &p.Competitors)
	list("segments", &p.Segments)
	list("regions", &p.Regions)
	if flags.Changed("monitoring") {
		p.Monitoring, _ = flags.GetBool("monitoring")
	}
	return p, nil
}

// decodeProject reads a YAML project definition.
func decodeProject(r io.Reader) (*model.Project, error) {
	var p model.Project
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return nil, eris.Wrap(err, "decode project yaml")
	}
	p.ID = ""
	return &p, nil
}

// formatProjects writes a tabular list of projects to out.
func formatProjects(out io.Writer, projects []model.Project) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tINDUSTRY\tCOMPETITORS\tMONITORING")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t-----------\t----------")
	for _, p := range projects {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n",
			truncateID(p.ID), p.Name, p.Industry, len(p.Competitors), p.Monitoring)
	}
	_ = w.Flush()
}
