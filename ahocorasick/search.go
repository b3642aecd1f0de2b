package ahocorasick

type stateID uint32

const (
	failedStateID stateID = 0
	deadStateID   stateID = 1
)

// standardFindAt walks the automaton from sID, consulting the prefilter
// (when one was built and looks effective) to skip ahead to the next byte
// that could possibly start a match, and returns the first match reached.
func standardFindAt(a *automaton, prestate *prefilterState, haystack []byte, at int, sID *stateID) *Match {
	return standardFindAtImpl(a, prestate, a.prefil, haystack, at, sID)
}

func standardFindAtImpl(a *automaton, prestate *prefilterState, pf prefilter, haystack []byte, at int, sID *stateID) *Match {
	sid := *sID
	for at < len(haystack) {
		if pf != nil {
			if prestate.IsEffective(at) && sID == &a.startID {
				c := nextPrefilter(prestate, pf, haystack, at)
				if c == noneCandidate {
					*sID = sid
					return nil
				}
				at = c
			}
		}
		sid = a.NextStateNoFail(sid, haystack[at])
		at += 1

		if sid == deadStateID || a.hasMatch(sid) {
			*sID = sid
			if sid == deadStateID {
				return nil
			}
			return a.GetMatch(sid, 0, at)
		}
	}
	*sID = sid
	return nil
}

// overlappingFindAt drains every match recorded at the current state before
// advancing, so a state that is itself a suffix of another match (e.g. "he"
// inside "she") is reported once per atom rather than once per position.
func overlappingFindAt(a *automaton, prestate *prefilterState, haystack []byte, at int, id *stateID, matchIndex *int) *Match {
	if a.anchored && at > 0 && *id == a.startID {
		return nil
	}

	matchCount := len(a.states[*id].matches)

	if *matchIndex < matchCount {
		result := a.GetMatch(*id, *matchIndex, at)
		*matchIndex += 1
		return result
	}

	*matchIndex = 0
	match := standardFindAt(a, prestate, haystack, at, id)
	if match == nil {
		return nil
	}

	*matchIndex = 1
	return match
}

// earliestFindAt reports a zero-width match at the start state before doing
// anything else, since the start state can itself be an accepting state
// when one of the atoms is empty or anchored at position zero.
func earliestFindAt(a *automaton, prestate *prefilterState, haystack []byte, at int, id *stateID) *Match {
	if *id == a.startID {
		if a.anchored && at > 0 {
			return nil
		}
		if match := a.GetMatch(*id, 0, at); match != nil {
			return match
		}
	}
	return standardFindAt(a, prestate, haystack, at, id)
}

func findAtNoState(a *automaton, prestate *prefilterState, haystack []byte, at int) *Match {
	state := a.startID
	return earliestFindAt(a, prestate, haystack, at, &state)
}
