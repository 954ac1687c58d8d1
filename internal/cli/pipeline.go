package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для управления pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineCreateCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
		newPipelineSnapshotCmd(clientFn, outputFn),
	)

	return cmd
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipelines, err := client.ListPipelines()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "ACTIVE", "CREATED"}
			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = []string{p.ID, p.Name, strconv.FormatBool(p.IsActive), formatWhen(p.CreatedAt)}
			}

			out.Print(headers, rows, pipelines)
			return nil
		},
	}
}

func newPipelineCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipeline, err := client.CreatePipeline(name)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline created: %s", pipeline.ID))
			out.Print(
				[]string{"ID", "NAME", "ACTIVE", "CREATED"},
				[][]string{{pipeline.ID, pipeline.Name, strconv.FormatBool(pipeline.IsActive), pipeline.CreatedAt}},
				pipeline,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Pipeline name")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show pipeline details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipeline, err := client.GetPipeline(args[0])
			if err != nil {
				return err
			}

			out.Details([][2]string{
				{"ID", pipeline.ID},
				{"Name", pipeline.Name},
				{"Active", strconv.FormatBool(pipeline.IsActive)},
				{"Created", formatWhen(pipeline.CreatedAt)},
			}, pipeline)
			return nil
		},
	}
}

func newPipelineSnapshotCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage pipeline snapshots",
	}

	cmd.AddCommand(
		newSnapshotPutCmd(clientFn, outputFn),
		newSnapshotShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newSnapshotPutCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "put PIPELINE_ID",
		Short: "Upload a new snapshot version from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read snapshot file: %w", err)
			}

			var req PutSnapshotRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("invalid snapshot file: %w", err)
			}

			snapshot, err := client.PutSnapshot(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Snapshot version %d uploaded", snapshot.Version))
			out.Print(
				[]string{"PIPELINE_ID", "VERSION", "BUILD_REF", "TIMEOUT", "CREATED"},
				[][]string{{snapshot.PipelineID, strconv.Itoa(snapshot.Version), snapshot.BuildRef, formatInterval(snapshot.TimeoutSec), formatWhen(snapshot.CreatedAt)}},
				snapshot,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to snapshot JSON file")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newSnapshotShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show PIPELINE_ID",
		Short: "Show the latest snapshot version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			snapshot, err := client.GetLatestSnapshot(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"PIPELINE_ID", "VERSION", "BUILD_REF", "TIMEOUT", "CREATED"},
				[][]string{{snapshot.PipelineID, strconv.Itoa(snapshot.Version), snapshot.BuildRef, formatInterval(snapshot.TimeoutSec), formatWhen(snapshot.CreatedAt)}},
				snapshot,
			)
			return nil
		},
	}
}
