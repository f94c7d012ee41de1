// Command client is an interactive REPL over the line-delimited
// statement protocol: every line typed is sent verbatim to the server
// and the single JSON response line is printed back.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
)

var addr = flag.String("addr", "localhost:4488", "Server address")

func main() {
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Printf("Failed to connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("Connected to %s\n", *addr)
	fmt.Println(`Type statements such as: PING; | AUTH "user" "pass"; | SELECT * FROM ks.t WHERE id=1;`)
	fmt.Println("quit or exit to leave.")
	fmt.Println()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Print("xeondb> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		if _, err := writer.WriteString(line); err != nil {
			fmt.Printf("send error: %v\n", err)
			break
		}
		if err := writer.WriteByte('\n'); err != nil {
			fmt.Printf("send error: %v\n", err)
			break
		}
		if err := writer.Flush(); err != nil {
			fmt.Printf("flush error: %v\n", err)
			break
		}

		resp, err := reader.ReadString('\n')
		if err != nil {
			fmt.Printf("read error: %v\n", err)
			break
		}
		fmt.Println(strings.TrimRight(resp, "\n"))
	}

	fmt.Println("Goodbye!")
}
