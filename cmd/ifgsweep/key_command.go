package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ifgsweep/internal/scenekey"
)

type keyView struct {
	Key          string   `json:"key"`
	MasterScenes []string `json:"master_scenes"`
	SlaveScenes  []string `json:"slave_scenes"`
}

func newKeyCommand() *cobra.Command {
	var primary, secondary []string
	var sourcePath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print the scene key for a master/slave scene pair",
		Long: `Key derives the order-insensitive scene key used to match configurations,
products, blacklist entries, and jobs. Pass the scene lists with --primary and
--secondary, or point --source at a record's _source JSON document.`,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				key  scenekey.Key
				pair scenekey.ScenePair
				err  error
			)
			if path := strings.TrimSpace(sourcePath); path != "" {
				data, readErr := os.ReadFile(path)
				if readErr != nil {
					return fmt.Errorf("read source document: %w", readErr)
				}
				key, pair, err = scenekey.DeriveSource(data)
			} else {
				pair = scenekey.ScenePair{Primary: trimEach(primary), Secondary: trimEach(secondary)}
				key, err = scenekey.Derive(pair)
			}
			if err != nil {
				return err
			}

			canon := pair.Canonical()
			if jsonOutput {
				return writeJSON(cmd, keyView{Key: key.String(), MasterScenes: canon.Primary, SlaveScenes: canon.Secondary})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, key)
			fmt.Fprintf(out, "master_scenes: %s\n", strings.Join(canon.Primary, ", "))
			fmt.Fprintf(out, "slave_scenes:  %s\n", strings.Join(canon.Secondary, ", "))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&primary, "primary", nil, "Master scene ids (comma separated or repeated)")
	cmd.Flags().StringSliceVar(&secondary, "secondary", nil, "Slave scene ids (comma separated or repeated)")
	cmd.Flags().StringVar(&sourcePath, "source", "", "Read scenes from a record _source JSON file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print as JSON")
	cmd.MarkFlagsMutuallyExclusive("source", "primary")
	cmd.MarkFlagsMutuallyExclusive("source", "secondary")
	return cmd
}

// trimEach strips the padding left by "--primary a, b" style flag values.
func trimEach(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
