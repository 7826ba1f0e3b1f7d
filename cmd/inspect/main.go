// Command inspect dumps stored messages or conversation aggregates as a
// table, for poking at a roomlink badger store during operations.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"roomlink/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg: or agg:)")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetTablePadding("\t")

	switch {
	case strings.HasPrefix(*prefix, "msg:"):
		table.SetHeader([]string{"Conversation", "Sender", "Kind", "State", "Created", "Content"})
		err = scan(db, *prefix, func(v []byte) error {
			var m domain.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			table.Append([]string{
				string(m.ConversationID), m.SenderID, string(m.Kind),
				string(m.DeliveryState), m.CreatedAt.Format("2006-01-02 15:04:05"),
				m.Content,
			})
			return nil
		})
	case strings.HasPrefix(*prefix, "agg:"):
		table.SetHeader([]string{"Conversation", "Last Message", "Last At", "Unread"})
		err = scan(db, *prefix, func(v []byte) error {
			var a domain.ConversationAggregate
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			table.Append([]string{
				string(a.ConversationID), a.LastMessageID.String(),
				a.LastMessageAt.Format("2006-01-02 15:04:05"),
				fmt.Sprintf("%v", a.UnreadCount),
			})
			return nil
		})
	default:
		log.Fatalf("unsupported prefix %q", *prefix)
	}
	if err != nil {
		log.Fatal("Scan failed: ", err)
	}

	table.Render()
}

func scan(db *badger.DB, prefix string, fn func(v []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			if err := item.Value(fn); err != nil {
				// A bad record should not stop the whole scan.
				fmt.Printf("Error decoding key %s: %v\n", string(item.Key()), err)
			}
		}
		return nil
	})
}
