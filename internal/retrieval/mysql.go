package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/alfassa/alfaai-gateway/internal/config"
)

const dialTimeout = 5 * time.Second

// MySQLDialer opens one-shot connections with go-sql-driver/mysql.
type MySQLDialer struct {
	Timeout time.Duration
}

func (d MySQLDialer) Dial(ctx context.Context, p config.Profile) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = dialTimeout
	}

	cfg := mysql.NewConfig()
	cfg.User = p.Username
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.PortOrDefault()))
	cfg.DBName = p.Database
	cfg.Timeout = timeout
	cfg.ReadTimeout = 2 * timeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p.Label(), err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", p.Label(), err)
	}
	return &mysqlConn{db: db}, nil
}

type mysqlConn struct {
	db *sql.DB
}

func (c *mysqlConn) Close() error {
	return c.db.Close()
}

func (c *mysqlConn) Tables(ctx context.Context) ([]string, error) {
	return c.firstColumn(ctx, "SHOW TABLES")
}

func (c *mysqlConn) TextColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "DESCRIBE "+quoteIdent(table))
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []string
	for rows.Next() {
		values := make([]sql.RawBytes, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		// DESCRIBE yields Field, Type, Null, Key, Default, Extra.
		if len(values) < 2 {
			continue
		}
		if IsTextType(string(values[1])) {
			out = append(out, string(values[0]))
		}
	}
	return out, rows.Err()
}

func (c *mysqlConn) SearchRows(ctx context.Context, table string, columns []string, pattern string, limit int) ([]map[string]any, error) {
	if len(columns) == 0 {
		return nil, nil
	}
	where := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+1)
	like := "%" + escapeLike(pattern) + "%"
	for _, col := range columns {
		where = append(where, quoteIdent(col)+" LIKE ?")
		args = append(args, like)
	}
	args = append(args, limit)

	query := "SELECT * FROM " + quoteIdent(table) + " WHERE " + strings.Join(where, " OR ") + " LIMIT ?"
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", table, err)
	}
	defer rows.Close()
	return scanMaps(rows)
}

func (c *mysqlConn) PostsTable(ctx context.Context) (string, error) {
	tables, err := c.firstColumn(ctx, `SHOW TABLES LIKE '%\_posts'`)
	if err != nil || len(tables) == 0 {
		return "", err
	}
	return tables[0], nil
}

func (c *mysqlConn) SiteURL(ctx context.Context, optionsTable string) (string, error) {
	query := "SELECT option_value FROM " + quoteIdent(optionsTable) +
		" WHERE option_name IN ('siteurl','home') ORDER BY option_name='siteurl' DESC LIMIT 1"
	var value string
	err := c.db.QueryRowContext(ctx, query).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read site url from %s: %w", optionsTable, err)
	}
	return strings.TrimSpace(value), nil
}

func (c *mysqlConn) ScoredPosts(ctx context.Context, table string, tokens []string, limit int) ([]PostRow, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var scoreParts, whereParts []string
	var scoreArgs, whereArgs []any
	for _, tok := range tokens {
		like := "%" + escapeLike(tok) + "%"
		scoreParts = append(scoreParts,
			"(CASE WHEN post_title LIKE ? THEN 3 ELSE 0 END) + (CASE WHEN post_content LIKE ? THEN 1 ELSE 0 END)")
		scoreArgs = append(scoreArgs, like, like)
		whereParts = append(whereParts, "post_title LIKE ? OR post_content LIKE ?")
		whereArgs = append(whereArgs, like, like)
	}

	query := "SELECT ID, post_title, post_date, post_content, post_name, (" + strings.Join(scoreParts, " + ") + ") AS score" +
		" FROM " + quoteIdent(table) +
		" WHERE post_status='publish' AND post_type IN ('post','page','news','article')" +
		" AND (" + strings.Join(whereParts, " OR ") + ")" +
		" ORDER BY score DESC, post_date DESC LIMIT ?"

	args := append(append(scoreArgs, whereArgs...), limit)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts in %s: %w", table, err)
	}
	defer rows.Close()

	var out []PostRow
	for rows.Next() {
		var (
			r                    PostRow
			title, content, name sql.NullString
			date                 sql.NullString
		)
		if err := rows.Scan(&r.ID, &title, &date, &content, &name, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		r.Title, r.Date, r.Content, r.Name = title.String, date.String, content.String, name.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *mysqlConn) firstColumn(ctx context.Context, query string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to run %q: %w", query, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// IsTextType reports whether a column type holds character, text or JSON data.
func IsTextType(columnType string) bool {
	t := strings.ToLower(columnType)
	return strings.Contains(t, "char") || strings.Contains(t, "text") || strings.Contains(t, "json")
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
