package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	injctx "github.com/easyops/contextinject-go/pkg/context"
	"github.com/easyops/contextinject-go/pkg/core/errors"
)

// contextView 是上下文的 JSON 输出形式
type contextView struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Title          string            `json:"title,omitempty"`
	Content        string            `json:"content,omitempty"`
	ParentID       string            `json:"parent_id,omitempty"`
	Extensions     map[string]string `json:"extensions,omitempty"`
	RelevanceScore float64           `json:"relevance_score"`
	IsActive       bool              `json:"is_active"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
}

func toView(c *injctx.Context) contextView {
	return contextView{
		ID:             c.ID,
		Type:           string(c.Type),
		Title:          c.Title,
		Content:        c.Content,
		ParentID:       c.ParentID,
		Extensions:     c.Extensions,
		RelevanceScore: c.RelevanceScore,
		IsActive:       c.IsActive,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		ExpiresAt:      c.ExpiresAt,
	}
}

// 输出格式
const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// print 按 --output 指定的格式输出结构化结果
func (a *app) print(w io.Writer, v interface{}) error {
	if a.output != outputYAML {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	// 经 JSON 中转以沿用 json 标签作为字段名
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// readText 读取参数文本，"-" 或空参数时读取标准输入
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", errors.WrapError(err, "read stdin")
	}
	return string(data), nil
}

func newAddCmd(a *app) *cobra.Command {
	var (
		id          string
		ctype       string
		title       string
		content     string
		contentFile string
		parent      string
		score       float64
		expiresIn   time.Duration
		extensions  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a new context",
		Long: `Store a new context and print its id.

Examples:
  contextctl add --type project --title Billing --content "Migrate to the new ledger" --score 0.8
  contextctl add --type task --content-file notes.md --parent 3f2a...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentFile != "" {
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return errors.WrapError(err, "read content file")
				}
				content = string(data)
			}

			c := &injctx.Context{
				ID:             id,
				Type:           injctx.ContextType(ctype),
				Title:          title,
				Content:        content,
				ParentID:       parent,
				Extensions:     extensions,
				RelevanceScore: score,
			}
			if expiresIn > 0 {
				ts := time.Now().Add(expiresIn)
				c.ExpiresAt = &ts
			}

			newID, err := a.store.Create(cmd.Context(), c)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), newID)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "context id (generated when empty)")
	cmd.Flags().StringVarP(&ctype, "type", "t", string(injctx.ContextTypeOther), "context type: strategic, project, conversation, task or other")
	cmd.Flags().StringVar(&title, "title", "", "short title")
	cmd.Flags().StringVar(&content, "content", "", "context body")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "read the body from a file")
	cmd.Flags().StringVar(&parent, "parent", "", "parent context id")
	cmd.Flags().Float64Var(&score, "score", 0.5, "initial relevance score in [0,1]")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "expire the context after this duration")
	cmd.Flags().StringToStringVar(&extensions, "ext", nil, "extension key=value pairs")
	return cmd
}

func newRelateCmd(a *app) *cobra.Command {
	var (
		relType  string
		strength float64
	)

	cmd := &cobra.Command{
		Use:   "relate <source> <target>",
		Short: "Add a directed relationship between two contexts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.CreateRelationship(cmd.Context(), injctx.Relationship{
				SourceID: args[0],
				TargetID: args[1],
				Type:     relType,
				Strength: strength,
			})
		},
	}

	cmd.Flags().StringVar(&relType, "type", "related_to", "relationship type")
	cmd.Flags().Float64Var(&strength, "strength", 0.5, "relationship strength in [0,1]")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a context as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), toView(c))
		},
	}
}

func newHierarchyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "hierarchy <id>",
		Short: "Print the parent chain from root to the context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, err := a.store.GetHierarchy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for depth, c := range chain {
				fmt.Fprintf(out, "%s%s [%s] %s\n", strings.Repeat("  ", depth), c.ID, c.Type, c.Title)
			}
			return nil
		},
	}
}

func newReinforceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reinforce <id>",
		Short: "Boost a context and decay its related contexts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Reinforce(cmd.Context(), args[0]); err != nil {
				return err
			}
			c, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %.4f\n", c.ID, c.RelevanceScore)
			return nil
		},
	}
}

func newPruneCmd(a *app) *cobra.Command {
	var threshold float64

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Deactivate contexts scoring below a threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pruned, err := a.store.Prune(cmd.Context(), threshold)
			if err != nil {
				return err
			}
			for _, id := range pruned {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0.1, "relevance score threshold")
	return cmd
}

func newActivateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Reactivate a pruned context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.Activate(cmd.Context(), args[0])
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), stats)
		},
	}
}
