// Command demo showcases the storage kernel's basic operations: open,
// put, get, update, delete, a named secondary tree, and a forced
// checkpoint followed by a reopen to demonstrate recovery. Adapted
// from the teacher's cmd/demo (a three-engine walkthrough) down to
// this repo's single storage kernel.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	tuplgo "github.com/intellect4all/tuplgo"
)

func main() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("tuplgo Demo: Embedded Ordered Key/Value Storage Kernel")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	dir, err := os.MkdirTemp("", "tuplgo-demo-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cfg := tuplgo.DefaultConfig(dir)
	db, err := tuplgo.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("✓ Opened database at %s\n", dir)

	fmt.Println("\n[Writing data]")
	testData := map[string]string{
		"user:1001":   `{"name": "Alice", "age": 30, "city": "NYC"}`,
		"user:1002":   `{"name": "Bob", "age": 25, "city": "SF"}`,
		"product:101": `{"name": "Laptop", "price": 999.99}`,
	}
	for key, value := range testData {
		if err := db.Put([]byte(key), []byte(value)); err != nil {
			log.Printf("Error writing %s: %v", key, err)
			continue
		}
		fmt.Printf("  PUT %s\n", key)
	}

	fmt.Println("\n[Reading data]")
	for key := range testData {
		value, err := db.Get([]byte(key))
		if err != nil {
			log.Printf("Error reading %s: %v", key, err)
			continue
		}
		fmt.Printf("  GET %s -> %s\n", key, value)
	}

	fmt.Println("\n[Updating data]")
	db.Put([]byte("user:1001"), []byte(`{"name": "Alice Updated", "age": 31, "city": "NYC"}`))
	fmt.Println("  PUT user:1001 (updated)")

	fmt.Println("\n[Deleting data]")
	if err := db.Delete([]byte("product:101")); err != nil {
		log.Printf("Error deleting: %v", err)
	}
	if _, err := db.Get([]byte("product:101")); err != nil {
		fmt.Println("  DELETE product:101 confirmed absent")
	}

	fmt.Println("\n[Named secondary tree]")
	sessions, err := db.OpenTree("sessions")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("  opened tree %q with root page %d\n", "sessions", sessions.RootID())

	fmt.Println("\n[Checkpoint + reopen]")
	if err := db.Checkpoint(); err != nil {
		log.Fatal(err)
	}
	if err := db.Close(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("  checkpointed and closed")

	reopened, err := tuplgo.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer reopened.Close()
	v, err := reopened.Get([]byte("user:1002"))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("  after reopen, GET user:1002 -> %s\n", v)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("Done.")
	fmt.Println(strings.Repeat("=", 80))
}
