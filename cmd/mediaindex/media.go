package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aleph-Alpha/mediaindex/internal/ingest"
	"github.com/Aleph-Alpha/mediaindex/internal/media"
	"github.com/Aleph-Alpha/mediaindex/internal/store"
	"github.com/spf13/cobra"
)

func (c *cli) uploadCmd() *cobra.Command {
	var owner, contentType string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store a file and submit it for indexing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			if contentType == "" {
				contentType = mime.TypeByExtension(filepath.Ext(path))
			}

			var o *ingest.Orchestrator
			stop, err := start(cmd.Context(), pipeline(c.cfg), &o)
			if err != nil {
				return err
			}
			defer stop()

			res, err := o.Upload(cmd.Context(), ingest.UploadRequest{
				OwnerID:     owner,
				Filename:    filepath.Base(path),
				ContentType: contentType,
				Data:        data,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner of the uploaded file")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (guessed from the extension when empty)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (c *cli) submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <media-id>",
		Short: "Submit a PENDING media record for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var o *ingest.Orchestrator
			stop, err := start(cmd.Context(), pipeline(c.cfg), &o)
			if err != nil {
				return err
			}
			defer stop()

			handle, err := o.Submit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, handle)
		},
	}
}

type statusView struct {
	Media media.Record `json:"media"`
	Job   *media.Job   `json:"job,omitempty"`
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <media-id>",
		Short: "Show a media record and its current job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s *store.Store
			stop, err := start(cmd.Context(), base(c.cfg), &s)
			if err != nil {
				return err
			}
			defer stop()

			rec, err := s.GetMedia(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view := statusView{Media: rec}
			if rec.CurrentJobID != nil {
				job, err := s.GetJob(cmd.Context(), *rec.CurrentJobID)
				if err != nil {
					return err
				}
				view.Job = &job
			}
			return printJSON(cmd, view)
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <media-id>",
		Short: "Delete a media record with its blob and vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var o *ingest.Orchestrator
			stop, err := start(cmd.Context(), pipeline(c.cfg), &o)
			if err != nil {
				return err
			}
			defer stop()

			if err := o.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}

// parseStates reads --state values case-insensitively.
func parseStates(raw []string) ([]media.State, error) {
	var out []media.State
	for _, r := range raw {
		st := media.State(strings.ToUpper(strings.TrimSpace(r)))
		if !st.Valid() {
			return nil, fmt.Errorf("invalid --state %q", r)
		}
		out = append(out, st)
	}
	return out, nil
}

func (c *cli) listCmd() *cobra.Command {
	var (
		ff     filterFlags
		pf     pageFlags
		states []string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List media records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := ff.filter()
			if err != nil {
				return err
			}
			if filter.States, err = parseStates(states); err != nil {
				return err
			}

			var s *store.Store
			stop, err := start(cmd.Context(), base(c.cfg), &s)
			if err != nil {
				return err
			}
			defer stop()

			recs, err := s.QueryMedia(cmd.Context(), filter, pf.page())
			if err != nil {
				return err
			}
			return printJSON(cmd, recs)
		},
	}
	ff.bind(cmd.Flags())
	pf.bind(cmd.Flags())
	cmd.Flags().StringSliceVar(&states, "state", nil, "only media in one of these states")
	return cmd
}

func (c *cli) setTagsCmd() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "set-tags <media-id>",
		Short: "Replace the tags of an indexed media record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var o *ingest.Orchestrator
			stop, err := start(cmd.Context(), pipeline(c.cfg), &o)
			if err != nil {
				return err
			}
			defer stop()

			rec, err := o.UpdateTags(cmd.Context(), args[0], tags)
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to set (repeatable)")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}
