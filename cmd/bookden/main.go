// Command bookden is the interactive client for the library catalog
// server.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bookden/internal/client"
	"bookden/internal/wire"
)

func main() {
	var (
		serverAddr string
		listenPort int
	)
	cmd := &cobra.Command{
		Use:           "bookden",
		Short:         "Interactive library catalog client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Dial(serverAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			ui := &ui{client: c, in: bufio.NewReader(os.Stdin), listenPort: listenPort}
			return ui.run()
		},
	}
	cmd.Flags().StringVarP(&serverAddr, "server", "s", "127.0.0.1:31337", "server address")
	cmd.Flags().IntVarP(&listenPort, "listen-port", "p", 13371, "local port for report delivery")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type ui struct {
	client     *client.Client
	in         *bufio.Reader
	listenPort int
}

func (u *ui) run() error {
	for {
		if done, err := u.loginMenu(); done || err != nil {
			return err
		}
		if err := u.mainMenu(); err != nil {
			return err
		}
	}
}

func (u *ui) loginMenu() (bool, error) {
	for {
		fmt.Println()
		fmt.Println("1) Log in")
		fmt.Println("2) Quit")
		switch u.prompt("> ") {
		case "1":
			username := u.prompt("Username: ")
			password, err := u.promptPassword("Password: ")
			if err != nil {
				return false, err
			}
			token, err := u.client.Login(username, password)
			if err != nil {
				return false, err
			}
			fmt.Println(token)
			if token == wire.RespLoginSuccess {
				return false, nil
			}
		case "2":
			return true, nil
		}
	}
}

func (u *ui) mainMenu() error {
	for {
		fmt.Println()
		fmt.Println("1) Add user")
		fmt.Println("2) View availability")
		fmt.Println("3) Add book")
		fmt.Println("4) Request book")
		fmt.Println("5) Return book")
		fmt.Println("6) Full inventory report")
		fmt.Println("7) Log out")
		switch u.prompt("> ") {
		case "1":
			if err := u.addUser(); err != nil {
				return err
			}
		case "2":
			report, err := u.client.Availability()
			if err != nil {
				return err
			}
			fmt.Println(report)
		case "3":
			if err := u.bookCommand(u.client.AddBook, "Copies to add: "); err != nil {
				return err
			}
		case "4":
			if err := u.bookCommand(u.client.RequestBook, "Copies to request: "); err != nil {
				return err
			}
		case "5":
			if err := u.bookCommand(u.client.ReturnBook, "Copies to return: "); err != nil {
				return err
			}
		case "6":
			if err := u.fetchReport(); err != nil {
				return err
			}
		case "7":
			return nil
		}
	}
}

func (u *ui) addUser() error {
	username := u.prompt("New username: ")
	password, err := u.promptPassword("New password: ")
	if err != nil {
		return err
	}
	token, err := u.client.Register(username, password)
	if err != nil && !errors.Is(err, client.ErrRegistrationAborted) {
		return err
	}
	fmt.Println(token)
	return nil
}

func (u *ui) bookCommand(op func(string, int) (string, error), qtyPrompt string) error {
	name := u.prompt("Book name: ")
	qty, err := strconv.Atoi(u.prompt(qtyPrompt))
	if err != nil {
		fmt.Println("not a number")
		return nil
	}
	token, err := op(name, qty)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func (u *ui) fetchReport() error {
	path, token, err := u.client.FetchReport(u.listenPort, ".")
	if err != nil {
		return err
	}
	fmt.Println(token)
	if path != "" {
		fmt.Printf("saved %s\n", path)
	}
	return nil
}

func (u *ui) prompt(label string) string {
	fmt.Print(label)
	line, _ := u.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (u *ui) promptPassword(label string) (string, error) {
	fmt.Print(label)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return u.prompt(""), nil
	}
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
