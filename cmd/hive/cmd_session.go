package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"researchhive/internal/store"
	"researchhive/internal/types"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage research sessions",
	RunE:  runSessionList,
}

var sessionNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a new session",
	RunE:  runSessionNew,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently used first",
	RunE:  runSessionList,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its store",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionDelete,
}

func init() {
	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

func runSessionNew(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	title := strings.Join(args, " ")
	if title == "" {
		title = "untitled"
	}
	sess := &types.Session{
		ID:       uuid.NewString(),
		Title:    title,
		RootPath: workspace,
	}
	if err := a.registry.CreateSession(sess); err != nil {
		return err
	}

	// Open once so the session store exists on disk immediately.
	st, err := store.NewSessionStore(hiveDir("sessions", sess.ID+".db"), sess.ID)
	if err != nil {
		return err
	}
	st.Close()

	fmt.Printf("Created session %s (%q)\n", sess.ID, sess.Title)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.registry.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions. Create one with \"hive session new\".")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  %-30q  updated %s\n", s.ID, s.Title, s.UpdatedUTC)
	}
	return nil
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	id := args[0]
	if err := a.registry.DeleteSession(id); err != nil {
		return err
	}
	if err := os.Remove(hiveDir("sessions", id+".db")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session unregistered but store not removed: %w", err)
	}
	fmt.Printf("Deleted session %s\n", id)
	return nil
}
