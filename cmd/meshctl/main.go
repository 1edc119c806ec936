// cmd/meshctl is the CLI entry-point built with Cobra.
//
// Usage:
//
//	meshctl posts create u1 help "need water" -122.4 37.7 north_america --server http://localhost:5010
//	meshctl posts list --region north_america --server http://localhost:5010
//	meshctl posts get <post_id>               --server http://localhost:5010
//	meshctl mark-safe <user_id>                --server http://localhost:5010
//	meshctl status                             --server http://localhost:5010
//	meshctl cluster join <region> <base_url>   --server http://localhost:5010
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"meshrelief/internal/client"
	"meshrelief/internal/document"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "meshctl",
		Short: "CLI client for a meshrelief region node",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:5010", "region node base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(postsCmd(), markSafeCmd(), statusCmd(), clusterCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── posts ──────────────────────────────────────────────────────────────────

func postsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Post management commands",
	}
	cmd.AddCommand(postsCreateCmd(), postsListCmd(), postsGetCmd(), postsDeleteCmd())
	return cmd
}

func postsCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <user_id> <post_type> <message> <longitude> <latitude> <region>",
		Short: "Create a new post",
		Args:  cobra.ExactArgs(6),
		RunE: func(cmd *cobra.Command, args []string) error {
			lon, err := strconv.ParseFloat(args[3], 64)
			if err != nil {
				return fmt.Errorf("invalid longitude: %w", err)
			}
			lat, err := strconv.ParseFloat(args[4], 64)
			if err != nil {
				return fmt.Errorf("invalid latitude: %w", err)
			}

			c := client.New(serverAddr, timeout)
			post, err := c.CreatePost(context.Background(), client.CreatePostRequest{
				UserID:   args[0],
				PostType: args[1],
				Message:  args[2],
				Location: &document.Point{Type: "Point", Coordinates: []float64{lon, lat}},
				Region:   args[5],
			})
			if err != nil {
				return err
			}
			prettyPrint(post)
			return nil
		},
	}
}

func postsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			region, _ := cmd.Flags().GetString("region")
			postType, _ := cmd.Flags().GetString("post-type")
			global, _ := cmd.Flags().GetBool("global")

			params := url.Values{}
			if region != "" {
				params.Set("region", region)
			}
			if postType != "" {
				params.Set("post_type", postType)
			}
			if global {
				params.Set("global", "true")
			}

			c := client.New(serverAddr, timeout)
			result, err := c.ListPosts(context.Background(), params)
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
	cmd.Flags().String("region", "", "filter by region (or 'all')")
	cmd.Flags().String("post-type", "", "filter by post type")
	cmd.Flags().Bool("global", false, "scatter-gather query across peers")
	return cmd
}

func postsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <post_id>",
		Short: "Fetch a post by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			result, err := c.GetPost(context.Background(), args[0])
			if err == client.ErrNotFound {
				fmt.Printf("post %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func postsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <post_id>",
		Short: "Delete a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			if err := c.DeletePost(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
}

// ─── mark-safe ──────────────────────────────────────────────────────────────

func markSafeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark-safe <user_id>",
		Short: "Mark a user safe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			post, err := c.MarkSafe(context.Background(), args[0])
			if err != nil {
				return err
			}
			prettyPrint(post)
			return nil
		},
	}
}

// ─── status ─────────────────────────────────────────────────────────────────

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show region telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			result, err := c.Status(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

// ─── cluster ────────────────────────────────────────────────────────────────

func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Peer membership commands",
	}

	joinCmd := &cobra.Command{
		Use:   "join <region> <base_url>",
		Short: "Register a peer with this node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.JoinCluster(context.Background(), args[0], args[1])
		},
	}

	leaveCmd := &cobra.Command{
		Use:   "leave <base_url>",
		Short: "Remove a peer from this node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			return c.LeaveCluster(context.Background(), args[0])
		},
	}

	cmd.AddCommand(joinCmd, leaveCmd)
	return cmd
}

// ─── helpers ────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
