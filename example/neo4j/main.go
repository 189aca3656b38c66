package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/neobolt/driver/auth"
	"github.com/neobolt/driver/neobolt"
	"github.com/neobolt/driver/session"
)

const address = "localhost:7687"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	driver, err := neobolt.New(neobolt.Config{
		Address:        address,
		Auth:           auth.Basic("neo4j", "password", ""),
		MaxPoolSize:    10,
		MinPoolSize:    1,
		ConnectTimeout: 5 * time.Second,
		AcquireTimeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() { _ = driver.Close() }()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("verify connectivity: %w", err)
	}
	fmt.Printf("connected to %s\n", address)

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for i := 1; ; i++ {
		doAutoCommit(ctx, driver, i)
		doExplicitTransaction(ctx, driver, i)
		doRollback(ctx, driver, i)
		doManagedWrite(ctx, driver, i)

		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func doAutoCommit(ctx context.Context, driver *neobolt.Driver, i int) {
	sess := driver.NewSession(session.Config{})
	defer func() { _ = sess.Close(ctx) }()

	name := fmt.Sprintf("user-%d", i)
	res, err := sess.Run(ctx, "MERGE (u:User {name: $name}) RETURN u.name AS name", map[string]any{"name": name})
	if err != nil {
		log.Printf("merge: %v", err)
		return
	}

	rec, err := res.Single(ctx)
	if err != nil {
		log.Printf("single: %v", err)
		return
	}
	fmt.Printf("[%d] merged %v\n", i, rec.Values[0])
}

func doExplicitTransaction(ctx context.Context, driver *neobolt.Driver, i int) {
	sess := driver.NewSession(session.Config{})
	defer func() { _ = sess.Close(ctx) }()

	tx, err := sess.Begin(ctx, session.TransactionConfig{Timeout: 5 * time.Second})
	if err != nil {
		log.Printf("begin: %v", err)
		return
	}

	name := fmt.Sprintf("tx-user-%d", i)
	res, err := tx.Run(ctx, "CREATE (u:User {name: $name}) RETURN u.name AS name", map[string]any{"name": name})
	if err != nil {
		log.Printf("tx create: %v", err)
		return
	}
	if err := res.Consume(ctx); err != nil {
		log.Printf("tx consume: %v", err)
		return
	}

	bookmark, err := tx.Commit(ctx)
	if err != nil {
		log.Printf("tx commit: %v", err)
		return
	}
	fmt.Printf("[%d] tx committed %s (bookmark: %s)\n", i, name, bookmark)
}

func doRollback(ctx context.Context, driver *neobolt.Driver, i int) {
	sess := driver.NewSession(session.Config{})
	defer func() { _ = sess.Close(ctx) }()

	tx, err := sess.Begin(ctx, session.TransactionConfig{})
	if err != nil {
		log.Printf("rollback begin: %v", err)
		return
	}

	name := fmt.Sprintf("rollback-user-%d", i)
	res, err := tx.Run(ctx, "CREATE (u:User {name: $name})", map[string]any{"name": name})
	if err != nil {
		log.Printf("rollback create: %v", err)
		_ = tx.Rollback(ctx)
		return
	}
	_ = res.Discard(ctx)

	if err := tx.Rollback(ctx); err != nil {
		log.Printf("rollback: %v", err)
		return
	}
	fmt.Printf("[%d] rolled back %s\n", i, name)
}

func doManagedWrite(ctx context.Context, driver *neobolt.Driver, i int) {
	sess := driver.NewSession(session.Config{})
	defer func() { _ = sess.Close(ctx) }()

	name := fmt.Sprintf("managed-user-%d", i)
	count, err := sess.ExecuteWrite(ctx, func(tx *session.Transaction) (any, error) {
		res, err := tx.Run(ctx, "MERGE (u:User {name: $name}) RETURN count(u) AS c", map[string]any{"name": name})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return rec.Values[0], nil
	})
	if err != nil {
		log.Printf("managed write: %v", err)
		return
	}
	fmt.Printf("[%d] managed write %s (count: %v)\n", i, name, count)
}
