package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Replay reads every journaled event of the given types (or all known
// journals when types is empty) whose TS falls in [from, to], merged
// and sorted ascending by TS. Used by the HTTP query surface and by
// startup's position-rebuild scan (spec §4.1, §4.12).
func (l *Log) Replay(from, to time.Time, types ...Type) ([]Event, error) {
	if len(types) == 0 {
		var err error
		types, err = l.knownTypes()
		if err != nil {
			return nil, err
		}
	}

	var out []Event
	for _, t := range types {
		evs, err := l.readJournal(t)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, ev := range evs {
			if (ev.TS.Equal(from) || ev.TS.After(from)) && (ev.TS.Equal(to) || ev.TS.Before(to)) {
				out = append(out, ev)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

func (l *Log) readJournal(t Type) ([]Event, error) {
	f, err := os.Open(l.pathFor(t))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var evs []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // a truncated last line from a crash mid-append is skipped, not fatal
		}
		evs = append(evs, ev)
	}
	return evs, scanner.Err()
}

func (l *Log) knownTypes() ([]Type, error) {
	dir := l.eventsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var types []Type
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".jsonl"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			types = append(types, Type(name[:len(name)-len(suffix)]))
		}
	}
	return types, nil
}

func (l *Log) eventsDir() string {
	return filepath.Join(l.dir, "events")
}
