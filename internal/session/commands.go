package session

import (
	"fmt"
	"time"

	"github.com/svnbridge/svnbridged/internal/auth"
	"github.com/svnbridge/svnbridged/internal/commitbuilder"
	"github.com/svnbridge/svnbridged/internal/locktable"
	"github.com/svnbridge/svnbridged/internal/reportdriver"
	"github.com/svnbridge/svnbridged/internal/vfs"
	"github.com/svnbridge/svnbridged/internal/wire"
)

// commandLoop reads `( word arg-list )` frames until the connection closes,
// dispatching each to its handler after running the ACL oracle, mirroring
// the reference implementation's permission-step-before-every-command
// pattern (BaseCmd.process / CheckPermissionStep).
func (c *conn) commandLoop() error {
	for {
		if err := c.setReadDeadline(); err != nil {
			return err
		}
		word, args, err := c.readCommand()
		if err != nil {
			return err
		}
		cursor := newArgCursor(args)
		handler, ok := commandTable[word]
		if !ok {
			if err := wire.WriteError(c.w, wire.ServerError{Code: wire.ErrUnsupportedFeature, Message: fmt.Sprintf("unknown command %q", word)}); err != nil {
				return err
			}
			continue
		}
		if err := handler(c, cursor); err != nil {
			if err == errAccessDenied {
				continue
			}
			return err
		}
	}
}

// readCommand reads one `( word ( args... ) )` top-level frame.
func (c *conn) readCommand() (string, []wire.Item, error) {
	open, err := c.r.ReadItem()
	if err != nil {
		return "", nil, err
	}
	if open.Kind != wire.KindListBegin {
		return "", nil, &wire.MalformedFrame{Expected: "command list"}
	}
	wordItem, err := c.r.ReadItem()
	if err != nil {
		return "", nil, err
	}
	if wordItem.Kind != wire.KindWord {
		return "", nil, &wire.MalformedFrame{Expected: "command word"}
	}
	args, err := c.r.ReadList()
	if err != nil {
		return "", nil, err
	}
	closeItem, err := c.r.ReadItem()
	if err != nil {
		return "", nil, err
	}
	if closeItem.Kind != wire.KindListEnd {
		return "", nil, &wire.MalformedFrame{Expected: "command list end"}
	}
	return wordItem.Word, args, nil
}

type commandHandler func(c *conn, args *argCursor) error

var commandTable = map[string]commandHandler{
	"reparent":               cmdReparent,
	"get-latest-rev":         cmdGetLatestRev,
	"get-dated-rev":          cmdGetDatedRev,
	"change-rev-prop":        cmdChangeRevProp,
	"rev-proplist":           cmdRevProplist,
	"rev-prop":                cmdRevProp,
	"commit":                 cmdCommit,
	"get-file":               cmdGetFile,
	"get-dir":                cmdGetDir,
	"check-path":             cmdCheckPath,
	"stat":                   cmdStat,
	"get-file-revs":          cmdGetFileRevs,
	"update":                 cmdUpdate,
	"switch":                 cmdSwitch,
	"status":                 cmdStatus,
	"diff":                   cmdDiff,
	"log":                    cmdLog,
	"get-locations":          cmdGetLocations,
	"get-location-segments":  cmdGetLocationSegments,
	"get-mergeinfo":          cmdGetMergeinfo,
	"lock":                   cmdLock,
	"unlock":                 cmdUnlock,
	"lock-many":              cmdLockMany,
	"unlock-many":            cmdUnlockMany,
	"get-lock":               cmdGetLock,
	"get-locks":              cmdGetLocks,
	"replay":                 cmdReplay,
	"replay-range":           cmdReplayRange,
}

func respondOK(c *conn, fn func(w *wire.Writer) error) error {
	return wire.WriteSuccess(c.w, fn)
}

func cmdReparent(c *conn, args *argCursor) error {
	url, err := args.str()
	if err != nil {
		return err
	}
	_, rest := splitRepoPath(string(url))
	c.target = rest
	return respondOK(c, func(w *wire.Writer) error { return nil })
}

func cmdGetLatestRev(c *conn, args *argCursor) error {
	if err := c.checkACL(c.target, auth.OpRead); err != nil {
		return err
	}
	rev, err := c.repo.Sync()
	if err != nil {
		return err
	}
	return respondOK(c, func(w *wire.Writer) error { return w.Number(int64(rev)) })
}

func cmdGetDatedRev(c *conn, args *argCursor) error {
	if err := c.checkACL(c.target, auth.OpRead); err != nil {
		return err
	}
	dateStr, err := args.str()
	if err != nil {
		return err
	}
	target, err := parseSVNDate(string(dateStr))
	if err != nil {
		return respondOK(c, func(w *wire.Writer) error { return w.Number(0) })
	}
	head := c.repo.Revs.HeadRevision()
	rev := 0
	// walk newest-first and stop at the first commit at or before target.
	for r := head; r >= 1; r-- {
		props, err := c.repo.RevProps(r)
		if err != nil {
			return err
		}
		ts, err := parseSVNDate(props["svn:date"])
		if err != nil {
			continue
		}
		if !ts.After(target) {
			rev = r
			break
		}
	}
	return respondOK(c, func(w *wire.Writer) error { return w.Number(int64(rev)) })
}

func cmdChangeRevProp(c *conn, args *argCursor) error {
	if err := c.checkACL(c.target, auth.OpAdmin); err != nil {
		return err
	}
	rev, err := args.number()
	if err != nil {
		return err
	}
	name, err := args.word()
	if err != nil {
		return err
	}
	value, err := args.str()
	if err != nil {
		return err
	}
	c.repo.SetRevProp(int(rev), name, string(value))
	return respondOK(c, func(w *wire.Writer) error { return nil })
}

func cmdRevProplist(c *conn, args *argCursor) error {
	if err := c.checkACL(c.target, auth.OpRead); err != nil {
		return err
	}
	rev, err := args.number()
	if err != nil {
		return err
	}
	props, err := c.repo.RevProps(int(rev))
	if err != nil {
		return err
	}
	return respondOK(c, func(w *wire.Writer) error { return writeProps(w, props) })
}

func cmdRevProp(c *conn, args *argCursor) error {
	if err := c.checkACL(c.target, auth.OpRead); err != nil {
		return err
	}
	rev, err := args.number()
	if err != nil {
		return err
	}
	name, err := args.word()
	if err != nil {
		return err
	}
	props, err := c.repo.RevProps(int(rev))
	if err != nil {
		return err
	}
	value, ok := props[name]
	return respondOK(c, func(w *wire.Writer) error {
		return wire.WriteList(w, func(w *wire.Writer) error {
			if !ok {
				return nil
			}
			return w.String([]byte(value))
		})
	})
}

func cmdGetFile(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpRead); err != nil {
		return err
	}
	rev, _, err := args.optionalNumber()
	if err != nil {
		return err
	}
	wantProps, err := args.number()
	if err != nil {
		return err
	}
	wantContents, err := args.number()
	if err != nil {
		return err
	}
	if rev == 0 {
		rev = int64(c.repo.Revs.HeadRevision())
	}
	node, err := c.repo.FS.Stat(int(rev), string(path))
	if err != nil {
		return err
	}
	if node.Kind != vfs.KindFile {
		return wire.WriteError(c.w, wire.ServerError{Code: wire.ErrFSNotFound, Message: "no such file"})
	}
	checksum, err := node.MD5()
	if err != nil {
		return err
	}
	var props map[string]string
	if wantProps != 0 {
		props, err = node.Properties(false)
		if err != nil {
			return err
		}
	}
	if err := respondOK(c, func(w *wire.Writer) error {
		if err := w.String([]byte(checksum)); err != nil {
			return err
		}
		if err := w.Number(rev); err != nil {
			return err
		}
		return writeProps(w, props)
	}); err != nil {
		return err
	}
	if wantContents != 0 {
		content, err := node.Open()
		if err != nil {
			return err
		}
		if err := c.w.Bytes(content); err != nil {
			return err
		}
	}
	return nil
}

func cmdGetDir(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpRead); err != nil {
		return err
	}
	rev, _, err := args.optionalNumber()
	if err != nil {
		return err
	}
	wantProps, err := args.number()
	if err != nil {
		return err
	}
	wantContents, err := args.number()
	if err != nil {
		return err
	}
	if rev == 0 {
		rev = int64(c.repo.Revs.HeadRevision())
	}
	node, err := c.repo.FS.Stat(int(rev), string(path))
	if err != nil {
		return err
	}
	if node.Kind != vfs.KindDir {
		return wire.WriteError(c.w, wire.ServerError{Code: wire.ErrFSNotFound, Message: "no such directory"})
	}
	var props map[string]string
	if wantProps != 0 {
		props, err = node.Properties(false)
		if err != nil {
			return err
		}
	}
	var entries []vfs.DirectoryEntry
	if wantContents != 0 {
		entries, err = c.repo.FS.List(int(rev), string(path))
		if err != nil {
			return err
		}
	}
	return respondOK(c, func(w *wire.Writer) error {
		if err := w.Number(rev); err != nil {
			return err
		}
		if err := writeProps(w, props); err != nil {
			return err
		}
		return wire.WriteList(w, func(w *wire.Writer) error {
			for _, e := range entries {
				if err := wire.WriteList(w, func(w *wire.Writer) error {
					kind := "file"
					if e.Kind == vfs.KindDir {
						kind = "dir"
					}
					if err := w.String([]byte(e.Name)); err != nil {
						return err
					}
					if err := w.Word(kind); err != nil {
						return err
					}
					if err := w.Number(int64(e.LastChangeRev)); err != nil {
						return err
					}
					return w.String([]byte(e.LastChangeAuthor))
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func cmdCheckPath(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpRead); err != nil {
		return err
	}
	rev, ok, err := args.optionalNumber()
	if err != nil {
		return err
	}
	if !ok {
		rev = int64(c.repo.Revs.HeadRevision())
	}
	node, err := c.repo.FS.Stat(int(rev), string(path))
	if err != nil {
		return err
	}
	return respondOK(c, func(w *wire.Writer) error { return w.Word(kindWord(node.Kind)) })
}

func cmdStat(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpRead); err != nil {
		return err
	}
	rev, ok, err := args.optionalNumber()
	if err != nil {
		return err
	}
	if !ok {
		rev = int64(c.repo.Revs.HeadRevision())
	}
	node, err := c.repo.FS.Stat(int(rev), string(path))
	if err != nil {
		return err
	}
	if node.Kind == vfs.KindAbsent {
		return respondOK(c, func(w *wire.Writer) error {
			return wire.WriteList(w, func(w *wire.Writer) error { return nil })
		})
	}
	size := 0
	if node.Kind == vfs.KindFile {
		size, err = node.Size()
		if err != nil {
			return err
		}
	}
	props, err := node.Properties(false)
	if err != nil {
		return err
	}
	return respondOK(c, func(w *wire.Writer) error {
		return wire.WriteList(w, func(w *wire.Writer) error {
			if err := w.Word(kindWord(node.Kind)); err != nil {
				return err
			}
			if err := w.Number(int64(size)); err != nil {
				return err
			}
			hasProps := int64(0)
			if len(props) > 0 {
				hasProps = 1
			}
			return w.Number(hasProps)
		})
	})
}

func kindWord(k vfs.Kind) string {
	switch k {
	case vfs.KindDir:
		return "dir"
	case vfs.KindFile:
		return "file"
	default:
		return "none"
	}
}

func cmdGetFileRevs(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpRead); err != nil {
		return err
	}
	startRev, _, err := args.optionalNumber()
	if err != nil {
		return err
	}
	endRev, _, err := args.optionalNumber()
	if err != nil {
		return err
	}
	if endRev == 0 {
		endRev = int64(c.repo.Revs.HeadRevision())
	}
	entries, err := c.repo.FS.Log([]string{string(path)}, int(startRev), int(endRev), false, false, 0)
	if err != nil {
		return err
	}
	return respondOK(c, func(w *wire.Writer) error {
		for _, e := range entries {
			if err := wire.WriteList(w, func(w *wire.Writer) error {
				if err := w.String([]byte(path)); err != nil {
					return err
				}
				if err := w.Number(int64(e.Rev)); err != nil {
					return err
				}
				if err := wire.WriteList(w, func(w *wire.Writer) error { return nil }); err != nil {
					return err
				}
				return w.Number(0)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeProps writes a property map as a `( ( name:str value:str ) ... )`
// list.
func writeProps(w *wire.Writer, props map[string]string) error {
	return wire.WriteList(w, func(w *wire.Writer) error {
		for k, v := range props {
			if err := wire.WriteList(w, func(w *wire.Writer) error {
				if err := w.String([]byte(k)); err != nil {
					return err
				}
				return w.String([]byte(v))
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func cmdLog(c *conn, args *argCursor) error {
	pathsCursor, err := args.list()
	if err != nil {
		return err
	}
	paths, err := pathsCursor.strings()
	if err != nil {
		return err
	}
	if err := c.checkACL(firstOr(paths, "/"), auth.OpRead); err != nil {
		return err
	}
	startRev, err := args.number()
	if err != nil {
		return err
	}
	endRev, err := args.number()
	if err != nil {
		return err
	}
	_, err = args.number() // changed-paths flag
	if err != nil {
		return err
	}
	_, err = args.number() // strict-node-history flag
	if err != nil {
		return err
	}
	limit := int64(0)
	if args.more() {
		limit, _ = args.number()
	}

	from, to := int(startRev), int(endRev)
	if to == 0 {
		to = c.repo.Revs.HeadRevision()
	}
	entries, err := c.repo.FS.Log(paths, from, to, true, false, int(limit))
	if err != nil {
		return err
	}
	return respondOK(c, func(w *wire.Writer) error {
		for _, e := range entries {
			if err := wire.WriteList(w, func(w *wire.Writer) error {
				if err := wire.WriteList(w, func(w *wire.Writer) error {
					for _, p := range e.ChangedPaths {
						if err := wire.WriteList(w, func(w *wire.Writer) error {
							if err := w.String([]byte(p)); err != nil {
								return err
							}
							return w.Word("M")
						}); err != nil {
							return err
						}
					}
					return nil
				}); err != nil {
					return err
				}
				if err := w.Number(int64(e.Rev)); err != nil {
					return err
				}
				if err := w.String([]byte(e.Author)); err != nil {
					return err
				}
				if err := w.String([]byte(formatSVNDate(e.Date.Unix()))); err != nil {
					return err
				}
				return w.String([]byte(e.Message))
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func firstOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return items[0]
}

func cmdGetLocations(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpRead); err != nil {
		return err
	}
	pegRev, err := args.number()
	if err != nil {
		return err
	}
	_ = pegRev
	revsCursor, err := args.list()
	if err != nil {
		return err
	}
	var revisions []int64
	for revsCursor.more() {
		n, err := revsCursor.number()
		if err != nil {
			return err
		}
		revisions = append(revisions, n)
	}
	return respondOK(c, func(w *wire.Writer) error {
		for _, r := range revisions {
			node, err := c.repo.FS.Stat(int(r), string(path))
			if err != nil || node.Kind == vfs.KindAbsent {
				continue
			}
			if err := wire.WriteList(w, func(w *wire.Writer) error {
				if err := w.Number(r); err != nil {
					return err
				}
				return w.String(path)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func cmdGetLocationSegments(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpRead); err != nil {
		return err
	}
	pegRev, _, err := args.optionalNumber()
	if err != nil {
		return err
	}
	startRev, _, err := args.optionalNumber()
	if err != nil {
		return err
	}
	endRev, _, err := args.optionalNumber()
	if err != nil {
		return err
	}
	if pegRev == 0 {
		pegRev = int64(c.repo.Revs.HeadRevision())
	}
	if startRev == 0 {
		startRev = 1
	}
	if endRev == 0 {
		endRev = pegRev
	}
	// svnbridge tracks no rename provenance, so a path's location segment
	// never changes: the whole queried range maps to one segment.
	return respondOK(c, func(w *wire.Writer) error {
		return wire.WriteList(w, func(w *wire.Writer) error {
			if err := w.Number(startRev); err != nil {
				return err
			}
			if err := w.Number(endRev); err != nil {
				return err
			}
			return w.String(path)
		})
	})
}

func cmdGetMergeinfo(c *conn, args *argCursor) error {
	if err := c.checkACL(c.target, auth.OpRead); err != nil {
		return err
	}
	// svnbridge records no merge tracking notes, matching the reference
	// behavior of returning a well-formed empty response rather than an
	// error for mergeinfo queries.
	return respondOK(c, func(w *wire.Writer) error {
		return wire.WriteList(w, func(w *wire.Writer) error { return nil })
	})
}

func cmdLock(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpWrite); err != nil {
		return err
	}
	commentCursor, err := args.list()
	if err != nil {
		return err
	}
	comment := ""
	if commentCursor.more() {
		commentBytes, err := commentCursor.str()
		if err != nil {
			return err
		}
		comment = string(commentBytes)
	}
	stealNum, err := args.number()
	if err != nil {
		return err
	}
	lock, err := c.repo.Locks.Lock(string(path), c.user, comment, stealNum != 0)
	if err != nil {
		return wire.WriteError(c.w, lockErrorToWire(err))
	}
	return respondOK(c, func(w *wire.Writer) error { return writeLock(w, lock) })
}

func cmdUnlock(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpWrite); err != nil {
		return err
	}
	tokenCursor, err := args.list()
	if err != nil {
		return err
	}
	token := ""
	if tokenCursor.more() {
		t, err := tokenCursor.str()
		if err != nil {
			return err
		}
		token = string(t)
	}
	breakLock, err := args.number()
	if err != nil {
		return err
	}
	if err := c.repo.Locks.Unlock(string(path), token, breakLock != 0); err != nil {
		return wire.WriteError(c.w, lockErrorToWire(err))
	}
	return respondOK(c, func(w *wire.Writer) error { return nil })
}

func cmdLockMany(c *conn, args *argCursor) error {
	if err := c.checkACL(c.target, auth.OpWrite); err != nil {
		return err
	}
	commentCursor, err := args.list()
	if err != nil {
		return err
	}
	comment := ""
	if commentCursor.more() {
		v, err := commentCursor.str()
		if err != nil {
			return err
		}
		comment = string(v)
	}
	steal, err := args.number()
	if err != nil {
		return err
	}
	pathsCursor, err := args.list()
	if err != nil {
		return err
	}
	var paths []string
	for pathsCursor.more() {
		p, err := pathsCursor.str()
		if err != nil {
			return err
		}
		paths = append(paths, string(p))
	}
	return respondOK(c, func(w *wire.Writer) error {
		for _, p := range paths {
			lock, err := c.repo.Locks.Lock(p, c.user, comment, steal != 0)
			if err != nil {
				if werr := wire.WriteList(w, func(w *wire.Writer) error {
					if err := w.String([]byte(p)); err != nil {
						return err
					}
					return w.Word("failure")
				}); werr != nil {
					return werr
				}
				continue
			}
			if err := wire.WriteList(w, func(w *wire.Writer) error {
				if err := w.String([]byte(p)); err != nil {
					return err
				}
				if err := w.Word("success"); err != nil {
					return err
				}
				return writeLock(w, lock)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func cmdUnlockMany(c *conn, args *argCursor) error {
	if err := c.checkACL(c.target, auth.OpWrite); err != nil {
		return err
	}
	breakLock, err := args.number()
	if err != nil {
		return err
	}
	tokensCursor, err := args.list()
	if err != nil {
		return err
	}
	type pathToken struct{ path, token string }
	var targets []pathToken
	for tokensCursor.more() {
		entry, err := tokensCursor.list()
		if err != nil {
			return err
		}
		p, err := entry.str()
		if err != nil {
			return err
		}
		tokenCursor, err := entry.list()
		if err != nil {
			return err
		}
		token := ""
		if tokenCursor.more() {
			t, err := tokenCursor.str()
			if err != nil {
				return err
			}
			token = string(t)
		}
		targets = append(targets, pathToken{path: string(p), token: token})
	}
	return respondOK(c, func(w *wire.Writer) error {
		for _, t := range targets {
			err := c.repo.Locks.Unlock(t.path, t.token, breakLock != 0)
			result := "success"
			if err != nil {
				result = "failure"
			}
			if err := wire.WriteList(w, func(w *wire.Writer) error {
				if err := w.String([]byte(t.path)); err != nil {
					return err
				}
				return w.Word(result)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func cmdGetLock(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpRead); err != nil {
		return err
	}
	lock, ok := c.repo.Locks.Get(string(path))
	return respondOK(c, func(w *wire.Writer) error {
		return wire.WriteList(w, func(w *wire.Writer) error {
			if !ok {
				return nil
			}
			return writeLock(w, lock)
		})
	})
}

func cmdGetLocks(c *conn, args *argCursor) error {
	path, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(path), auth.OpRead); err != nil {
		return err
	}
	locks := c.repo.Locks.List(string(path))
	return respondOK(c, func(w *wire.Writer) error {
		return wire.WriteList(w, func(w *wire.Writer) error {
			for _, l := range locks {
				if err := writeLock(w, l); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func writeLock(w *wire.Writer, lock locktable.Lock) error {
	return wire.WriteList(w, func(w *wire.Writer) error {
		if err := w.String([]byte(lock.Path)); err != nil {
			return err
		}
		if err := w.String([]byte(lock.Token)); err != nil {
			return err
		}
		if err := w.String([]byte(lock.Owner)); err != nil {
			return err
		}
		if err := wire.WriteList(w, func(w *wire.Writer) error {
			if lock.Comment == "" {
				return nil
			}
			return w.String([]byte(lock.Comment))
		}); err != nil {
			return err
		}
		return w.String([]byte(formatSVNDate(lock.CreatedAt.Unix())))
	})
}

func lockErrorToWire(err error) wire.ServerError {
	switch err.(type) {
	case *locktable.AlreadyLockedError:
		return wire.ServerError{Code: wire.ErrFSLockOwner, Message: err.Error()}
	case *locktable.NoSuchLockError:
		return wire.ServerError{Code: wire.ErrFSNoSuchLock, Message: err.Error()}
	case *locktable.LockDeniedError:
		return wire.ServerError{Code: wire.ErrFSLockOwner, Message: err.Error()}
	default:
		return wire.ServerError{Code: wire.ErrFSNoSuchLock, Message: err.Error()}
	}
}

func cmdCommit(c *conn, args *argCursor) error {
	if err := c.checkACL(c.target, auth.OpWrite); err != nil {
		return err
	}
	logMsg, err := args.str()
	if err != nil {
		return err
	}
	lockTokens := make(map[string]string)
	if args.more() {
		tokensCursor, err := args.list()
		if err == nil {
			for tokensCursor.more() {
				entry, err := tokensCursor.list()
				if err != nil {
					break
				}
				p, err := entry.str()
				if err != nil {
					break
				}
				t, err := entry.str()
				if err != nil {
					break
				}
				lockTokens[string(p)] = string(t)
			}
		}
	}

	head := c.repo.Revs.HeadRevision()
	session := c.repo.Builder.BeginCommit(head, string(logMsg), c.user, lockTokens)

	if err := respondOK(c, func(w *wire.Writer) error { return nil }); err != nil {
		return err
	}

	if err := c.driveEditorFromWire(session); err != nil {
		_ = session.AbortEdit()
		return wire.WriteError(c.w, wire.ServerError{Code: wire.ErrFSOutOfDate, Message: err.Error()})
	}

	newRev, _, err := session.CloseEdit()
	if err != nil {
		return wire.WriteError(c.w, wire.ServerError{Code: wire.ErrFSOutOfDate, Message: err.Error()})
	}
	return respondOK(c, func(w *wire.Writer) error {
		return wire.WriteList(w, func(w *wire.Writer) error {
			if err := w.Number(int64(newRev)); err != nil {
				return err
			}
			props, err := c.repo.RevProps(newRev)
			if err != nil {
				return err
			}
			if err := w.String([]byte(props["svn:date"])); err != nil {
				return err
			}
			return w.String([]byte(props["svn:author"]))
		})
	})
}

// driveEditorFromWire reads the commit sub-protocol's editor commands off
// the wire until close-edit, dispatching each into session.
func (c *conn) driveEditorFromWire(session *commitbuilder.EditorSession) error {
	for {
		word, args, err := c.readCommand()
		if err != nil {
			return err
		}
		cursor := newArgCursor(args)
		switch word {
		case "open-root":
			if err := session.OpenRoot(); err != nil {
				return err
			}
		case "open-dir":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			if err := session.OpenDir(string(path)); err != nil {
				return err
			}
		case "add-dir":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			if err := session.AddDir(string(path), readCopySource(cursor)); err != nil {
				return err
			}
		case "close-dir":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			if err := session.CloseDir(string(path)); err != nil {
				return err
			}
		case "add-file":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			if err := session.AddFile(string(path), readCopySource(cursor)); err != nil {
				return err
			}
		case "open-file":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			checksumCursor, _ := cursor.list()
			checksum := ""
			if checksumCursor != nil && checksumCursor.more() {
				v, _ := checksumCursor.str()
				checksum = string(v)
			}
			if err := session.OpenFile(string(path), checksum); err != nil {
				return err
			}
		case "delete-entry":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			if err := session.DeleteEntry(string(path)); err != nil {
				return err
			}
		case "change-dir-prop", "change-file-prop":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			key, err := cursor.word()
			if err != nil {
				return err
			}
			valueCursor, err := cursor.list()
			if err != nil {
				return err
			}
			value := ""
			if valueCursor.more() {
				v, _ := valueCursor.str()
				value = string(v)
			}
			if err := session.ChangeProp(string(path), key, value, word == "change-dir-prop"); err != nil {
				return err
			}
		case "apply-textdelta":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			baseCursor, _ := cursor.list()
			base := ""
			if baseCursor != nil && baseCursor.more() {
				v, _ := baseCursor.str()
				base = string(v)
			}
			if err := session.ApplyTextDelta(string(path), base); err != nil {
				return err
			}
		case "textdelta-chunk":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			data, err := cursor.str()
			if err != nil {
				return err
			}
			if err := session.TextDeltaChunk(string(path), data); err != nil {
				return err
			}
		case "textdelta-end":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			if err := session.TextDeltaEnd(string(path), ""); err != nil {
				return err
			}
		case "close-file":
			path, err := cursor.str()
			if err != nil {
				return err
			}
			checksumCursor, _ := cursor.list()
			checksum := ""
			if checksumCursor != nil && checksumCursor.more() {
				v, _ := checksumCursor.str()
				checksum = string(v)
			}
			if checksum != "" {
				if err := session.TextDeltaEnd(string(path), checksum); err != nil {
					return err
				}
			}
			if err := session.CloseFile(string(path)); err != nil {
				return err
			}
		case "close-edit":
			return nil
		case "abort-edit":
			return fmt.Errorf("client aborted edit")
		default:
			return fmt.Errorf("unexpected editor command %q", word)
		}
		if err := respondOK(c, func(w *wire.Writer) error { return nil }); err != nil {
			return err
		}
	}
}

func readCopySource(cursor *argCursor) *commitbuilder.CopySource {
	sub, err := cursor.list()
	if err != nil || !sub.more() {
		return nil
	}
	path, err := sub.str()
	if err != nil {
		return nil
	}
	rev, err := sub.number()
	if err != nil {
		return nil
	}
	return &commitbuilder.CopySource{Path: string(path), Rev: int(rev)}
}

// reportReader reads a client's set-path/delete-path/finish-report
// sub-protocol into a reportdriver.Reporter.
func (c *conn) reportReader() (*reportdriver.Reporter, error) {
	reporter := reportdriver.NewReporter()
	for {
		word, args, err := c.readCommand()
		if err != nil {
			return nil, err
		}
		cursor := newArgCursor(args)
		switch word {
		case "set-path":
			path, err := cursor.str()
			if err != nil {
				return nil, err
			}
			rev, err := cursor.number()
			if err != nil {
				return nil, err
			}
			startEmpty, err := cursor.number()
			if err != nil {
				return nil, err
			}
			tokenCursor, _ := cursor.list()
			token := ""
			if tokenCursor != nil && tokenCursor.more() {
				v, _ := tokenCursor.str()
				token = string(v)
			}
			depth := reportdriver.DepthInfinity
			if cursor.more() {
				d, err := cursor.word()
				if err == nil {
					depth = parseDepth(d)
				}
			}
			reporter.SetPath(string(path), int(rev), startEmpty != 0, token, depth)
		case "delete-path":
			path, err := cursor.str()
			if err != nil {
				return nil, err
			}
			reporter.DeletePath(string(path))
		case "link-path":
			// svnbridge has no separate link-path (switch-inside-update)
			// support beyond what switch itself provides; treat it as a
			// plain set-path against the reported path.
			path, err := cursor.str()
			if err != nil {
				return nil, err
			}
			_, err = cursor.str() // link target, unused
			if err != nil {
				return nil, err
			}
			rev, err := cursor.number()
			if err != nil {
				return nil, err
			}
			reporter.SetPath(string(path), int(rev), false, "", reportdriver.DepthInfinity)
		case "finish-report":
			return reporter, nil
		case "abort-report":
			return nil, fmt.Errorf("client aborted report")
		default:
			return nil, fmt.Errorf("unexpected report command %q", word)
		}
		if err := respondOK(c, func(w *wire.Writer) error { return nil }); err != nil {
			return nil, err
		}
	}
}

func parseDepth(s string) reportdriver.Depth {
	switch s {
	case "empty":
		return reportdriver.DepthEmpty
	case "files":
		return reportdriver.DepthFiles
	case "immediates":
		return reportdriver.DepthImmediates
	default:
		return reportdriver.DepthInfinity
	}
}

func cmdUpdate(c *conn, args *argCursor) error {
	return c.driveReport(args, false)
}

func cmdSwitch(c *conn, args *argCursor) error {
	return c.driveReport(args, true)
}

func cmdStatus(c *conn, args *argCursor) error {
	return c.driveReport(args, false)
}

func cmdDiff(c *conn, args *argCursor) error {
	return c.driveReport(args, true)
}

// driveReport parses the shared update/switch/status/diff preamble
// (target revision, target path, recurse/depth, optional switch
// destination), reads the reporter sub-protocol, and drives the result
// back over the wire as editor commands.
func (c *conn) driveReport(args *argCursor, hasDestination bool) error {
	targetRevArg, _, err := args.optionalNumber()
	if err != nil {
		return err
	}
	targetPath, err := args.str()
	if err != nil {
		return err
	}
	if err := c.checkACL(string(targetPath), auth.OpRead); err != nil {
		return err
	}
	_, err = args.number() // recurse/depth flag, superseded by per-path depth
	if err != nil {
		return err
	}

	destPath := string(targetPath)
	if hasDestination && args.more() {
		dest, err := args.str()
		if err == nil {
			destPath = string(dest)
		}
	}

	if err := respondOK(c, func(w *wire.Writer) error { return nil }); err != nil {
		return err
	}

	reporter, err := c.reportReader()
	if err != nil {
		return err
	}

	targetRev := int(targetRevArg)
	if targetRev == 0 {
		targetRev = c.repo.Revs.HeadRevision()
	}

	editor := c.wireEditor()
	driver := reportdriver.NewDriver(c.repo.FS)
	if err := driver.Drive(reporter, targetRev, destPath, editor, false); err != nil {
		return err
	}
	return c.sendEditorCommand("close-edit", nil)
}

func cmdReplay(c *conn, args *argCursor) error {
	rev, err := args.number()
	if err != nil {
		return err
	}
	_, _, err = args.optionalNumber() // low water mark
	if err != nil {
		return err
	}
	if args.more() {
		_, _ = args.number() // send-deltas flag
	}
	if err := c.checkACL(c.target, auth.OpRead); err != nil {
		return err
	}
	return c.replayOne(int(rev))
}

func cmdReplayRange(c *conn, args *argCursor) error {
	startRev, err := args.number()
	if err != nil {
		return err
	}
	endRev, err := args.number()
	if err != nil {
		return err
	}
	_, _, err = args.optionalNumber()
	if err != nil {
		return err
	}
	if args.more() {
		_, _ = args.number()
	}
	if err := c.checkACL(c.target, auth.OpRead); err != nil {
		return err
	}
	for r := startRev; r <= endRev; r++ {
		props, err := c.repo.RevProps(int(r))
		if err != nil {
			return err
		}
		if err := respondOK(c, func(w *wire.Writer) error {
			if err := w.String([]byte(props["svn:author"])); err != nil {
				return err
			}
			return w.String([]byte(props["svn:date"]))
		}); err != nil {
			return err
		}
		if err := c.replayOne(int(r)); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) replayOne(rev int) error {
	reporter := reportdriver.NewReporter()
	reporter.SetPath("", rev-1, true, "", reportdriver.DepthInfinity)
	editor := c.wireEditor()
	driver := reportdriver.NewDriver(c.repo.FS)
	if err := driver.Drive(reporter, rev, "/", editor, true); err != nil {
		return err
	}
	return c.sendEditorCommand("close-edit", nil)
}

// wireEditor builds a reportdriver.Editor that serializes every call as the
// matching server-to-client editor command.
func (c *conn) wireEditor() *reportdriver.Editor {
	return &reportdriver.Editor{
		OpenRoot: func() error { return c.sendEditorCommand("open-root", nil) },
		OpenDir: func(path string) error {
			return c.sendEditorCommand("open-dir", func(w *wire.Writer) error { return w.String([]byte(path)) })
		},
		AddDir: func(path string, copyFrom *reportdriver.CopySource) error {
			return c.sendEditorCommand("add-dir", func(w *wire.Writer) error {
				if err := w.String([]byte(path)); err != nil {
					return err
				}
				return writeOptionalCopySource(w, copyFrom)
			})
		},
		CloseDir: func(path string) error {
			return c.sendEditorCommand("close-dir", func(w *wire.Writer) error { return w.String([]byte(path)) })
		},
		AddFile: func(path string, copyFrom *reportdriver.CopySource) error {
			return c.sendEditorCommand("add-file", func(w *wire.Writer) error {
				if err := w.String([]byte(path)); err != nil {
					return err
				}
				return writeOptionalCopySource(w, copyFrom)
			})
		},
		OpenFile: func(path string, baseChecksum string) error {
			return c.sendEditorCommand("open-file", func(w *wire.Writer) error { return w.String([]byte(path)) })
		},
		ChangeProp: func(path, key, value string, isDir bool) error {
			word := "change-file-prop"
			if isDir {
				word = "change-dir-prop"
			}
			return c.sendEditorCommand(word, func(w *wire.Writer) error {
				if err := w.String([]byte(path)); err != nil {
					return err
				}
				if err := w.Word(key); err != nil {
					return err
				}
				return wire.WriteList(w, func(w *wire.Writer) error {
					if value == "" {
						return nil
					}
					return w.String([]byte(value))
				})
			})
		},
		ApplyTextDelta: func(path string, window reportdriver.SVNDiffWindow) error {
			if err := c.sendEditorCommand("apply-textdelta", func(w *wire.Writer) error { return w.String([]byte(path)) }); err != nil {
				return err
			}
			stream := reportdriver.EncodeSVNDiffStream(window)
			if err := c.sendEditorCommand("textdelta-chunk", func(w *wire.Writer) error {
				if err := w.String([]byte(path)); err != nil {
					return err
				}
				return w.Bytes(stream)
			}); err != nil {
				return err
			}
			return c.sendEditorCommand("textdelta-end", func(w *wire.Writer) error { return w.String([]byte(path)) })
		},
		CloseFile: func(path, resultChecksum string) error {
			return c.sendEditorCommand("close-file", func(w *wire.Writer) error {
				if err := w.String([]byte(path)); err != nil {
					return err
				}
				return wire.WriteList(w, func(w *wire.Writer) error {
					if resultChecksum == "" {
						return nil
					}
					return w.String([]byte(resultChecksum))
				})
			})
		},
		DeleteEntry: func(path string) error {
			return c.sendEditorCommand("delete-entry", func(w *wire.Writer) error { return w.String([]byte(path)) })
		},
	}
}

func writeOptionalCopySource(w *wire.Writer, copyFrom *reportdriver.CopySource) error {
	return wire.WriteList(w, func(w *wire.Writer) error {
		if copyFrom == nil {
			return nil
		}
		if err := w.String([]byte(copyFrom.Path)); err != nil {
			return err
		}
		return w.Number(int64(copyFrom.Rev))
	})
}

func (c *conn) sendEditorCommand(word string, fn func(w *wire.Writer) error) error {
	return wire.WriteList(c.w, func(w *wire.Writer) error {
		if err := w.Word(word); err != nil {
			return err
		}
		return wire.WriteList(w, func(w *wire.Writer) error {
			if fn == nil {
				return nil
			}
			return fn(w)
		})
	})
}

// parseSVNDate parses the ISO-8601 form svn clients send for a dated-rev
// lookup, matching the precision formatSVNDate writes.
func parseSVNDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05.000000Z", s)
}
