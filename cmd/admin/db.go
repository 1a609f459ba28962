package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	runID := fs.String("run", "", "run id (optional; defaults to latest)")
	limit := fs.Int("limit", 20, "result limit")
	chunk := fs.String("chunk", "", "chunk filter cx,cy (evictions)")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if q != "runs" && *runID == "" {
		if err := db.QueryRow(`SELECT value FROM meta WHERE key='last_run_id'`).Scan(runID); err != nil {
			fmt.Fprintln(os.Stderr, "latest run:", err)
			os.Exit(1)
		}
	}

	switch q {
	case "runs":
		rows, err := db.Query(`SELECT run_id,world_id,started_at,tuning_digest FROM runs ORDER BY started_at DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID        string `json:"run_id"`
				WorldID      string `json:"world_id"`
				StartedAt    string `json:"started_at"`
				TuningDigest string `json:"tuning_digest"`
			}
			if err := rows.Scan(&r.RunID, &r.WorldID, &r.StartedAt, &r.TuningDigest); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "ticks":
		rows, err := db.Query(`SELECT tick,time,active,visible,explored,newly_explored,evicted,created,providers,digest FROM ticks WHERE run_id=? ORDER BY tick DESC LIMIT ?`, *runID, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick          int64   `json:"tick"`
				Time          float64 `json:"time"`
				Active        int     `json:"active"`
				Visible       int     `json:"visible"`
				Explored      int     `json:"explored"`
				NewlyExplored int     `json:"newly_explored"`
				Evicted       int     `json:"evicted"`
				Created       int     `json:"created"`
				Providers     int     `json:"providers"`
				Digest        string  `json:"digest"`
			}
			if err := rows.Scan(&r.Tick, &r.Time, &r.Active, &r.Visible, &r.Explored, &r.NewlyExplored, &r.Evicted, &r.Created, &r.Providers, &r.Digest); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "explored":
		rows, err := db.Query(`SELECT cx,cy,tick,time FROM explorations WHERE run_id=? ORDER BY tick DESC, cy, cx LIMIT ?`, *runID, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Chunk [2]int  `json:"chunk"`
				Tick  int64   `json:"tick"`
				Time  float64 `json:"time"`
			}
			if err := rows.Scan(&r.Chunk[0], &r.Chunk[1], &r.Tick, &r.Time); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "evictions":
		var (
			rows *sql.Rows
			err  error
		)
		if strings.TrimSpace(*chunk) != "" {
			c, perr := parseVec2(*chunk)
			if perr != nil {
				fmt.Fprintln(os.Stderr, "bad -chunk:", perr)
				os.Exit(2)
			}
			rows, err = db.Query(`SELECT tick,cx,cy FROM evictions WHERE run_id=? AND cx=? AND cy=? ORDER BY tick DESC LIMIT ?`, *runID, int(c[0]), int(c[1]), *limit)
		} else {
			rows, err = db.Query(`SELECT tick,cx,cy FROM evictions WHERE run_id=? ORDER BY tick DESC, seq LIMIT ?`, *runID, *limit)
		}
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick  int64  `json:"tick"`
				Chunk [2]int `json:"chunk"`
			}
			if err := rows.Scan(&r.Tick, &r.Chunk[0], &r.Chunk[1]); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "providers":
		rows, err := db.Query(`SELECT j.provider_id,j.name,j.tick,l.tick FROM provider_joins j LEFT JOIN provider_leaves l ON l.run_id=j.run_id AND l.provider_id=j.provider_id WHERE j.run_id=? ORDER BY j.tick DESC LIMIT ?`, *runID, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				r struct {
					ProviderID string `json:"provider_id"`
					Name       string `json:"name"`
					JoinTick   int64  `json:"join_tick"`
					LeaveTick  *int64 `json:"leave_tick,omitempty"`
				}
				leave sql.NullInt64
			)
			if err := rows.Scan(&r.ProviderID, &r.Name, &r.JoinTick, &leave); err != nil {
				fail("scan", err)
			}
			if leave.Valid {
				r.LeaveTick = &leave.Int64
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query (runs|ticks|explored|evictions|providers):", q)
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
