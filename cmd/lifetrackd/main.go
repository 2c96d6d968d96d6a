// lifetrackd - local-first usage tracking with background sync
//
//	lifetrackd init                 Create the data directory and config
//	lifetrackd daemon               Run the tracking and sync daemon
//	lifetrackd track <action>       Record activity (start, stop, page, action)
//	lifetrackd context [tag]        Show or set the session context
//	lifetrackd analytics [range]    Derive usage metrics (daily, weekly)
//	lifetrackd insights             Show insights and recommendations
//	lifetrackd sync                 Run one sync cycle now
//	lifetrackd status               Show store and sync state
//	lifetrackd encrypt <on|off>     Toggle at-rest encryption
//	lifetrackd clear                Erase this user's local data
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"lifetrackd/internal/event"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "init":
		cmdInit()
	case "daemon":
		cmdDaemon()
	case "track":
		cmdTrack()
	case "context":
		cmdContext()
	case "analytics":
		cmdAnalytics()
	case "insights":
		cmdInsights()
	case "sync":
		cmdSync()
	case "status":
		cmdStatus()
	case "encrypt":
		cmdEncrypt()
	case "clear":
		cmdClear()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`lifetrackd - Local-First Usage Tracking

USAGE:
    lifetrackd <command> [options]

COMMANDS:
    init                Create the data directory and a default config
    daemon              Run the tracking and sync daemon
    track <action>      Record activity:
                          track start            open a session
                          track stop             close the session
                          track page <path>      record a navigation
                          track action <name>    record an interaction
    context [tag]       Show or set the session context
                        (Study, Work, Entertainment, Idle, Custom)
    analytics [range]   Derive usage metrics; range is daily or weekly
    insights            Show insights and recommendations
    sync                Run one sync cycle now
    status              Show store and sync state
    encrypt <on|off>    Toggle at-rest encryption (migrates stored data)
    clear               Erase this user's local data (requires -force)
    help                Show this help message

Sync requires an identity token at the configured token path. Without
one, tracking still works and all data stays local.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func cmdTrack() {
	if len(os.Args) < 3 {
		fatal("track requires an action: start, stop, page, action")
	}

	app := mustOpenApp()
	defer app.Close()
	tr := app.Tracker()

	action := os.Args[2]
	switch action {
	case "start":
		if err := tr.Start(); err != nil {
			fatal("start session: %v", err)
		}
		fmt.Println("Session started.")
	case "stop":
		if err := tr.Stop(); err != nil {
			fatal("stop session: %v", err)
		}
		fmt.Println("Session closed.")
	case "page":
		if len(os.Args) < 4 {
			fatal("track page requires a path")
		}
		if err := tr.Start(); err != nil {
			fatal("start session: %v", err)
		}
		if err := tr.Navigate(os.Args[3]); err != nil {
			fatal("record navigation: %v", err)
		}
		fmt.Printf("Recorded navigation to %s\n", os.Args[3])
	case "action":
		if len(os.Args) < 4 {
			fatal("track action requires a name")
		}
		detail := ""
		if len(os.Args) > 4 {
			detail = os.Args[4]
		}
		if err := tr.Interaction(os.Args[3], detail); err != nil {
			fatal("record interaction: %v", err)
		}
		fmt.Printf("Recorded interaction %s\n", os.Args[3])
	default:
		fatal("unknown track action: %s", action)
	}
}

func cmdContext() {
	app := mustOpenApp()
	defer app.Close()

	if len(os.Args) < 3 {
		fmt.Println(app.Store.ContextTag(app.User))
		return
	}

	tag, err := parseContextTag(os.Args[2])
	if err != nil {
		fatal("%v", err)
	}
	if err := app.Store.SetContextTag(app.User, tag); err != nil {
		fatal("set context: %v", err)
	}
	fmt.Printf("Context set to %s\n", tag)
}

func parseContextTag(s string) (event.ContextTag, error) {
	switch strings.ToLower(s) {
	case "study":
		return event.ContextStudy, nil
	case "work":
		return event.ContextWork, nil
	case "entertainment":
		return event.ContextEntertainment, nil
	case "idle":
		return event.ContextIdle, nil
	case "custom":
		return event.ContextCustom, nil
	}
	return "", fmt.Errorf("unknown context %q (use Study, Work, Entertainment, Idle, Custom)", s)
}

func cmdEncrypt() {
	if len(os.Args) < 3 || (os.Args[2] != "on" && os.Args[2] != "off") {
		fatal("encrypt requires on or off")
	}

	app := mustOpenApp()
	defer app.Close()

	enabled := os.Args[2] == "on"
	if err := app.Prefs.SetEncryptionEnabled(app.User, enabled); err != nil {
		fatal("toggle encryption: %v", err)
	}
	if enabled {
		fmt.Println("Encryption enabled; stored data migrated.")
	} else {
		fmt.Println("Encryption disabled; stored data migrated to plaintext.")
	}
}

func cmdClear() {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	force := fs.Bool("force", false, "skip confirmation")
	fs.Parse(os.Args[2:])

	if !*force {
		fatal("clear erases all local data for this user; re-run with -force")
	}

	app := mustOpenApp()
	defer app.Close()

	if err := app.Store.ClearUser(app.User); err != nil {
		fatal("clear data: %v", err)
	}
	fmt.Printf("Cleared all local data for %s\n", app.User)
}
