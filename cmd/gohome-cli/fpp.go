package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/grpc"

	fpp "github.com/joshp123/gohome-fpp/plugins/falcon_pi_player"
)

func fppCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}
	if len(args) == 0 {
		fppUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "entries", "list":
		resp := listEntries(ctx, conn)
		out.render(resp, func() [][]string {
			rows := [][]string{{"TITLE", "ID", "STATE", "SOURCE", "URL"}}
			for _, e := range resp.Entries {
				state := e.State
				if e.Reason != "" {
					state += " (" + e.Reason + ")"
				}
				rows = append(rows, []string{e.Title, e.EntryID, state, e.Source, e.URL})
			}
			return rows
		})
	case "status":
		if len(args) < 2 {
			fatal("fpp status", fmt.Errorf("usage: gohome-cli fpp status <entry>"))
		}
		var resp fpp.GetStatusResponse
		invoke(ctx, conn, fpp.ServiceFullName, "GetStatus", fpp.EntryRequest{EntryID: resolveEntry(ctx, conn, args[1])}, &resp)
		out.render(resp, func() [][]string { return statusRows(resp) })
	case "entities":
		var resp fpp.ListEntitiesResponse
		invoke(ctx, conn, fpp.ServiceFullName, "ListEntities", nil, &resp)
		out.render(resp, func() [][]string {
			rows := [][]string{{"ENTITY", "STATE", "AVAILABLE", "DETAIL"}}
			for _, e := range resp.Entities {
				rows = append(rows, []string{e.EntityID, e.State, strconv.FormatBool(e.Available), entityDetail(e.Attributes)})
			}
			return rows
		})
	case "media":
		if len(args) < 3 {
			fatal("fpp media", fmt.Errorf("usage: gohome-cli fpp media <entry> <action> [key=value...]"))
		}
		data, err := parseData(args[3:])
		if err != nil {
			fatal("fpp media", err)
		}
		req := fpp.MediaCommandRequest{EntryID: resolveEntry(ctx, conn, args[1]), Action: args[2], Data: data}
		var resp fpp.EntityResponse
		invoke(ctx, conn, fpp.ServiceFullName, "MediaCommand", req, &resp)
		printEntity(out, resp)
	case "light":
		lightCmd(ctx, conn, out, args[1:])
	case "add":
		flags := flag.NewFlagSet("fpp add", flag.ExitOnError)
		username := flags.String("username", "", "device username")
		password := flags.String("password", "", "device password")
		verifySSL := flags.Bool("verify-ssl", false, "verify TLS certificates")
		_ = flags.Parse(args[1:])
		if flags.NArg() < 1 {
			fatal("fpp add", fmt.Errorf("usage: gohome-cli fpp add [--username u --password p] <url>"))
		}
		input := fpp.UserInput{URL: flags.Arg(0), Username: *username, Password: *password, VerifySSL: *verifySSL}
		var resp fpp.EntryResponse
		invoke(ctx, conn, fpp.ServiceFullName, "ConfigFlowUser", input, &resp)
		printEntry(out, resp)
	case "discovered":
		var resp fpp.ListDiscoveredResponse
		invoke(ctx, conn, fpp.ServiceFullName, "ListDiscovered", nil, &resp)
		out.render(resp, func() [][]string {
			rows := [][]string{{"NAME", "UNIQUE_ID", "URL", "SEEN"}}
			for _, d := range resp.Discoveries {
				rows = append(rows, []string{d.Name, d.UniqueID, d.URL, d.DiscoveredAt.Local().Format("2006-01-02 15:04:05")})
			}
			return rows
		})
	case "confirm":
		flags := flag.NewFlagSet("fpp confirm", flag.ExitOnError)
		username := flags.String("username", "", "device username")
		password := flags.String("password", "", "device password")
		_ = flags.Parse(args[1:])
		if flags.NArg() < 1 {
			fatal("fpp confirm", fmt.Errorf("usage: gohome-cli fpp confirm [--username u --password p] <unique_id>"))
		}
		req := fpp.ConfirmDiscoveredRequest{UniqueID: flags.Arg(0), Credentials: fpp.Credentials{Username: *username, Password: *password}}
		var resp fpp.EntryResponse
		invoke(ctx, conn, fpp.ServiceFullName, "ConfirmDiscovered", req, &resp)
		printEntry(out, resp)
	case "reauth":
		flags := flag.NewFlagSet("fpp reauth", flag.ExitOnError)
		username := flags.String("username", "", "device username")
		password := flags.String("password", "", "device password")
		_ = flags.Parse(args[1:])
		if flags.NArg() < 1 {
			fatal("fpp reauth", fmt.Errorf("usage: gohome-cli fpp reauth --username u --password p <entry>"))
		}
		req := fpp.ReauthRequest{EntryID: resolveEntry(ctx, conn, flags.Arg(0)), Credentials: fpp.Credentials{Username: *username, Password: *password}}
		var resp fpp.EntryResponse
		invoke(ctx, conn, fpp.ServiceFullName, "Reauth", req, &resp)
		printEntry(out, resp)
	case "remove":
		if len(args) < 2 {
			fatal("fpp remove", fmt.Errorf("usage: gohome-cli fpp remove <entry>"))
		}
		invoke(ctx, conn, fpp.ServiceFullName, "RemoveEntry", fpp.EntryRequest{EntryID: resolveEntry(ctx, conn, args[1])}, nil)
		fmt.Println("ok")
	case "reload":
		if len(args) < 2 {
			fatal("fpp reload", fmt.Errorf("usage: gohome-cli fpp reload <entry>"))
		}
		var resp fpp.EntryResponse
		invoke(ctx, conn, fpp.ServiceFullName, "ReloadEntry", fpp.EntryRequest{EntryID: resolveEntry(ctx, conn, args[1])}, &resp)
		printEntry(out, resp)
	case "help":
		fppUsage()
	default:
		fppUsage()
		os.Exit(2)
	}
}

func lightCmd(ctx context.Context, conn *grpc.ClientConn, out outputMode, args []string) {
	if len(args) < 2 {
		fatal("fpp light", fmt.Errorf("usage: gohome-cli fpp light <entry> on|off [brightness=0-255] [transition=seconds]"))
	}
	data, err := parseData(args[2:])
	if err != nil {
		fatal("fpp light", err)
	}
	req := fpp.LightRequest{EntryID: resolveEntry(ctx, conn, args[0])}
	if value, ok := data["brightness"].(float64); ok {
		brightness := int(value)
		req.Brightness = &brightness
	}
	if value, ok := data["transition"].(float64); ok {
		req.Transition = &value
	}

	method := ""
	switch args[1] {
	case "on":
		method = "LightTurnOn"
	case "off":
		method = "LightTurnOff"
		req.Brightness = nil
	default:
		fatal("fpp light", fmt.Errorf("unknown light action %q", args[1]))
	}
	var resp fpp.EntityResponse
	invoke(ctx, conn, fpp.ServiceFullName, method, req, &resp)
	printEntity(out, resp)
}

func listEntries(ctx context.Context, conn *grpc.ClientConn) fpp.ListEntriesResponse {
	var resp fpp.ListEntriesResponse
	invoke(ctx, conn, fpp.ServiceFullName, "ListEntries", nil, &resp)
	return resp
}

// resolveEntry accepts an entry ID or a title.
func resolveEntry(ctx context.Context, conn *grpc.ClientConn, input string) string {
	resp := listEntries(ctx, conn)
	options := make(map[string]string, len(resp.Entries))
	for _, e := range resp.Entries {
		options[e.Title] = e.EntryID
	}
	id, err := resolveNamedID("entry", input, options)
	if err != nil {
		fatal("fpp", err)
	}
	return id
}

// parseData turns key=value pairs into command data. Numeric values are
// sent as numbers.
func parseData(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		if number, err := strconv.ParseFloat(value, 64); err == nil {
			data[key] = number
			continue
		}
		data[key] = value
	}
	return data, nil
}

// entityDetail summarizes the attributes worth a table column.
func entityDetail(attrs map[string]any) string {
	var parts []string
	for _, key := range []string{"media_title", "media_playlist", "volume_level", "brightness"} {
		if value, ok := attrs[key]; ok {
			parts = append(parts, key+"="+formatValue(value))
		}
	}
	return strings.Join(parts, " ")
}

func formatValue(value any) string {
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, formatValue(item))
		}
		sort.Strings(items)
		return strings.Join(items, ", ")
	default:
		return fmt.Sprint(v)
	}
}

func statusRows(resp fpp.GetStatusResponse) [][]string {
	rows := [][]string{{"FIELD", "VALUE"}}
	rows = append(rows, []string{"last_update_success", strconv.FormatBool(resp.LastUpdateSuccess)})
	for _, key := range []string{"status_name", "fppd", "current_playlist", "current_sequence", "volume", "seconds_played", "seconds_remaining"} {
		if value, ok := resp.Status[key]; ok {
			rows = append(rows, []string{key, formatValue(value)})
		}
	}
	rows = append(rows, []string{"playlists", strings.Join(resp.Playlists, ", ")})
	rows = append(rows, []string{"brightness_percent", strconv.Itoa(resp.Brightness)})
	return rows
}

func printEntity(out outputMode, resp fpp.EntityResponse) {
	out.render(resp, func() [][]string {
		e := resp.Entity
		return [][]string{
			{"ENTITY", "STATE", "AVAILABLE", "DETAIL"},
			{e.EntityID, e.State, strconv.FormatBool(e.Available), entityDetail(e.Attributes)},
		}
	})
}

func printEntry(out outputMode, resp fpp.EntryResponse) {
	out.render(resp, func() [][]string {
		e := resp.Entry
		return [][]string{
			{"TITLE", "ID", "STATE", "SOURCE", "URL"},
			{e.Title, e.EntryID, e.State, e.Source, e.URL},
		}
	})
}

func fppUsage() {
	fmt.Println("Falcon Pi Player commands:")
	fmt.Println("  gohome-cli fpp entries")
	fmt.Println("  gohome-cli fpp status <entry>")
	fmt.Println("  gohome-cli fpp entities")
	fmt.Println("  gohome-cli fpp media <entry> <action> [key=value...]")
	fmt.Println("      actions: turn_on turn_off media_play media_pause media_stop media_next_track")
	fmt.Println("               media_previous_track volume_up volume_down")
	fmt.Println("               volume_set volume_level=0.4, select_source source=<playlist>")
	fmt.Println("  gohome-cli fpp light <entry> on [brightness=0-255] [transition=seconds]")
	fmt.Println("  gohome-cli fpp light <entry> off [transition=seconds]")
	fmt.Println("  gohome-cli fpp add [--username u --password p --verify-ssl] <url>")
	fmt.Println("  gohome-cli fpp discovered")
	fmt.Println("  gohome-cli fpp confirm [--username u --password p] <unique_id>")
	fmt.Println("  gohome-cli fpp reauth --username u --password p <entry>")
	fmt.Println("  gohome-cli fpp remove <entry>")
	fmt.Println("  gohome-cli fpp reload <entry>")
	fmt.Println("  gohome-cli fpp watch [--interval 2s] [entry]")
	fmt.Println("")
	fmt.Println("<entry> is an entry ID or title.")
}
