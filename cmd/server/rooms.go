package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/Conference/internal/app"
	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func roomsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List the rooms of a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rooms, err := fetchRooms(addr)
			if err != nil {
				return err
			}
			cmd.Print(renderRooms(rooms))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "server base URL")
	return cmd
}

func fetchRooms(addr string) ([]app.RoomInfo, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(addr, "/") + "/api/rooms")
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rooms: %s", resp.Status)
	}
	var rooms []app.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

func renderRooms(rooms []app.RoomInfo) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "ID", "Worker", "Clients", "Active speakers"})
	for _, r := range rooms {
		t.AppendRow(table.Row{r.Name, r.ID, r.Worker, r.ClientCount, strings.Join(r.ActiveSpeakers, ", ")})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(rooms)})
	return t.Render() + "\n"
}
