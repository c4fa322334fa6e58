package store

import (
	"fmt"

	"github.com/tidwall/buntdb"
)

// ProxyRule, HeaderRule and MirrorRule are three independent tables that
// share one selection algorithm (best-matching host pattern, §4.B). Each
// carries an integer id the way the original schema's AUTOINCREMENT
// columns do; ids are generated from a per-collection counter stored
// alongside the rows.

type ProxyRule struct {
	ID               int64   `json:"id"`
	Pattern          string  `json:"pattern"`
	Enabled          bool    `json:"enabled"`
	UseProxy         bool    `json:"use_proxy"`
	ProxyURLOverride *string `json:"proxy_url_override,omitempty"`
}

// HeaderRule's value is a mapping name -> value, or name -> {value, mode}.
// HeadersSpec stores the rule body as a JSON-decodable blob (map of raw
// interface{}), matching original_source's headers_json column; transport
// interprets each entry's shape at injection time.
type HeaderRule struct {
	ID           int64                  `json:"id"`
	Pattern      string                 `json:"pattern"`
	Enabled      bool                   `json:"enabled"`
	HeadersSpec  map[string]interface{} `json:"headers_spec"`
}

type MirrorRule struct {
	ID                int64    `json:"id"`
	Pattern           string   `json:"pattern"`
	Enabled           bool     `json:"enabled"`
	CandidateBaseURLs []string `json:"candidate_base_urls"`
}

func ruleKey(id int64) string { return fmt.Sprintf("%020d", id) }

func (s *Store) nextRuleID(tx *buntdb.Tx, collection string) (int64, error) {
	counterKey := makePath(collection, "_counter")
	raw, err := tx.Get(counterKey)
	var n int64
	if err == nil {
		fmt.Sscanf(raw, "%d", &n)
	} else if err != buntdb.ErrNotFound {
		return 0, err
	}
	n++
	_, _, err = tx.Set(counterKey, fmt.Sprintf("%d", n), nil)
	return n, err
}

func (s *Store) InsertProxyRule(r *ProxyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *buntdb.Tx) error {
		id, err := s.nextRuleID(tx, collProxyRules)
		if err != nil {
			return err
		}
		r.ID = id
		return s.setJSON(tx, collProxyRules, ruleKey(id), r)
	})
}

func (s *Store) ListProxyRules() ([]*ProxyRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ProxyRule
	prefix := makePath(collProxyRules, "")
	err := s.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		tx.AscendKeys(prefix+"*", func(key, value string) bool {
			if key == prefix+"_counter" {
				return true
			}
			var r ProxyRule
			if e := json.Unmarshal([]byte(value), &r); e != nil {
				iterErr = e
				return false
			}
			out = append(out, &r)
			return true
		})
		return iterErr
	})
	return out, err
}

func (s *Store) DeleteProxyRule(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *buntdb.Tx) error {
		return s.deleteKey(tx, collProxyRules, ruleKey(id))
	})
}

func (s *Store) InsertHeaderRule(r *HeaderRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *buntdb.Tx) error {
		id, err := s.nextRuleID(tx, collHeaderRules)
		if err != nil {
			return err
		}
		r.ID = id
		return s.setJSON(tx, collHeaderRules, ruleKey(id), r)
	})
}

func (s *Store) ListHeaderRules() ([]*HeaderRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*HeaderRule
	prefix := makePath(collHeaderRules, "")
	err := s.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		tx.AscendKeys(prefix+"*", func(key, value string) bool {
			if key == prefix+"_counter" {
				return true
			}
			var r HeaderRule
			if e := json.Unmarshal([]byte(value), &r); e != nil {
				iterErr = e
				return false
			}
			out = append(out, &r)
			return true
		})
		return iterErr
	})
	return out, err
}

func (s *Store) DeleteHeaderRule(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *buntdb.Tx) error {
		return s.deleteKey(tx, collHeaderRules, ruleKey(id))
	})
}

func (s *Store) InsertMirrorRule(r *MirrorRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *buntdb.Tx) error {
		id, err := s.nextRuleID(tx, collMirrorRules)
		if err != nil {
			return err
		}
		r.ID = id
		return s.setJSON(tx, collMirrorRules, ruleKey(id), r)
	})
}

func (s *Store) ListMirrorRules() ([]*MirrorRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*MirrorRule
	prefix := makePath(collMirrorRules, "")
	err := s.db.View(func(tx *buntdb.Tx) error {
		var iterErr error
		tx.AscendKeys(prefix+"*", func(key, value string) bool {
			if key == prefix+"_counter" {
				return true
			}
			var r MirrorRule
			if e := json.Unmarshal([]byte(value), &r); e != nil {
				iterErr = e
				return false
			}
			out = append(out, &r)
			return true
		})
		return iterErr
	})
	return out, err
}

func (s *Store) DeleteMirrorRule(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *buntdb.Tx) error {
		return s.deleteKey(tx, collMirrorRules, ruleKey(id))
	})
}

// RulesSnapshot freezes the full rule set for one job's lifetime, per the
// spec's "jobs see a frozen view" determinism requirement.
type RulesSnapshot struct {
	ProxyRules  []*ProxyRule
	HeaderRules []*HeaderRule
	MirrorRules []*MirrorRule
}

func (s *Store) SnapshotRules() (*RulesSnapshot, error) {
	proxyRules, err := s.ListProxyRules()
	if err != nil {
		return nil, err
	}
	headerRules, err := s.ListHeaderRules()
	if err != nil {
		return nil, err
	}
	mirrorRules, err := s.ListMirrorRules()
	if err != nil {
		return nil, err
	}
	return &RulesSnapshot{ProxyRules: proxyRules, HeaderRules: headerRules, MirrorRules: mirrorRules}, nil
}
