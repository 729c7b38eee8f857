package dnsagg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// store wraps the PostgreSQL backend pdns_server itself reads from
// (gpgsql), generalized from DNSNetworkInstance's raw psycopg2 SQL
// against PowerDNS's domains/records schema.
type store struct {
	pool *pgxpool.Pool
}

func openStore(ctx context.Context, dsn string) (*store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to dns backend: %w", err)
	}
	return &store{pool: pool}, nil
}

func (s *store) close() {
	s.pool.Close()
}

// addZone inserts a new domain row plus its SOA and NS records, per
// DNSNetworkInstance.add_network(). nsHost is the synthetic
// "ns1.<upstream domain>" placeholder nameserver the teacher daemon
// points every managed zone at.
func (s *store) addZone(ctx context.Context, domain, nsHost, hostmaster string) error {
	var domainID int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO domains (name, type) VALUES ($1, 'MASTER')
		 ON CONFLICT (name) DO UPDATE SET type = EXCLUDED.type
		 RETURNING id`, domain).Scan(&domainID)
	if err != nil {
		return fmt.Errorf("adding domain %s: %w", domain, err)
	}

	soa := fmt.Sprintf("%s %s 1 28800 7200 604800 86400", nsHost, hostmaster)
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO records (domain_id, name, type, content, ttl) VALUES ($1, $2, 'SOA', $3, 86400)`,
		domainID, domain, soa); err != nil {
		return fmt.Errorf("adding SOA for %s: %w", domain, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO records (domain_id, name, type, content, ttl) VALUES ($1, $2, 'NS', $3, 86400)`,
		domainID, domain, nsHost); err != nil {
		return fmt.Errorf("adding NS for %s: %w", domain, err)
	}
	return nil
}

// removeZone deletes a domain and (via the FK) all of its records, per
// DNSNetworkInstance.remove_network().
func (s *store) removeZone(ctx context.Context, domain string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM domains WHERE name = $1`, domain); err != nil {
		return fmt.Errorf("removing domain %s: %w", domain, err)
	}
	return nil
}

// currentRecords returns the A/AAAA records currently stored for domain,
// the only record types the aggregator reconciles against AXFR leases
// (AXFRDaemonInstance.run() ignores the SOA/NS rows it manages itself).
func (s *store) currentRecords(ctx context.Context, domain string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, type, content, ttl FROM records
		 WHERE domain_id = (SELECT id FROM domains WHERE name = $1)
		 AND type IN ('A', 'AAAA')`, domain)
	if err != nil {
		return nil, fmt.Errorf("reading records for %s: %w", domain, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ttl int32
		if err := rows.Scan(&r.Name, &r.Type, &r.Data, &ttl); err != nil {
			return nil, fmt.Errorf("scanning record for %s: %w", domain, err)
		}
		r.TTL = uint32(ttl)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *store) domainID(ctx context.Context, domain string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM domains WHERE name = $1`, domain).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("looking up domain %s: %w", domain, err)
	}
	return id, nil
}

func (s *store) insertRecord(ctx context.Context, domainID int64, r Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (domain_id, name, type, content, ttl) VALUES ($1, $2, $3, $4, $5)`,
		domainID, r.Name, r.Type, r.Data, r.TTL)
	if err != nil {
		return fmt.Errorf("inserting record %s %s: %w", r.Name, r.Type, err)
	}
	return nil
}

func (s *store) deleteRecord(ctx context.Context, domainID int64, r Record) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE domain_id = $1 AND name = $2 AND type = $3 AND content = $4`,
		domainID, r.Name, r.Type, r.Data)
	if err != nil {
		return fmt.Errorf("deleting record %s %s: %w", r.Name, r.Type, err)
	}
	return nil
}

// bumpSerial increments the SOA record's serial field, the third
// whitespace-separated token, and rewrites it, per AXFRDaemonInstance's
// "if anything changed" closing step before reloading PowerDNS.
func (s *store) bumpSerial(ctx context.Context, domainID int64, domain string) error {
	var soa string
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM records WHERE domain_id = $1 AND type = 'SOA'`, domainID).Scan(&soa)
	if err != nil {
		return fmt.Errorf("reading SOA for %s: %w", domain, err)
	}

	updated, err := incrementSerial(soa)
	if err != nil {
		return fmt.Errorf("bumping serial for %s: %w", domain, err)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE records SET content = $1 WHERE domain_id = $2 AND type = 'SOA'`, updated, domainID)
	if err != nil {
		return fmt.Errorf("writing SOA for %s: %w", domain, err)
	}
	return nil
}
