package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"prism-board/domain"
	"prism-board/session"
)

func parseID(name, v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return id, nil
}

func (a *app) print(doc domain.Document) {
	fmt.Fprintln(a.out, renderBoards(doc, a.width))
	s := a.ctrl.Snapshot()
	s.Document = doc
	fmt.Fprintln(a.out, renderStatus(s))
}

// mutated reports the outcome of a mutation. A no-op leaves the version
// untouched and is reported as such.
func (a *app) mutated(before int64, doc domain.Document, err error) error {
	if err != nil {
		return err
	}
	if doc.Version == before {
		fmt.Fprintln(a.out, "nothing changed")
		return nil
	}
	a.print(doc)
	return nil
}

func (a *app) showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Render the board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			doc := a.ctrl.Document()
			if asJSON {
				out, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, string(out))
				return nil
			}
			a.print(doc)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the raw document")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Render the board on every change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			updates := make(chan session.Snapshot, 16)
			cancel := a.ctrl.OnChange(func(s session.Snapshot) {
				select {
				case updates <- s:
				default:
				}
			})
			defer cancel()
			a.print(a.ctrl.Document())
			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case s := <-updates:
					if s.Err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", s.Err)
					}
					if s.State == session.Error {
						if err := a.ctrl.Reconnect(ctx); err != nil && ctx.Err() == nil {
							fmt.Fprintf(cmd.ErrOrStderr(), "reconnect failed: %v\n", err)
						}
						continue
					}
					fmt.Fprintln(a.out, renderBoards(s.Document, a.width))
					fmt.Fprintln(a.out, renderStatus(s))
				}
			}
		},
	}
}

func cardFlags(cmd *cobra.Command, withTitle bool) {
	f := cmd.Flags()
	if withTitle {
		f.String("title", "", "Card title")
	}
	f.StringP("description", "d", "", "Card description")
	f.String("due", "", "Due date")
	f.StringP("assignee", "a", "", "Assignee")
	f.String("color", "", "Background color")
	f.String("remind-email", "", "Send a reminder to this address")
	f.String("remind-at", "", "Reminder time, e.g. 2024-05-01T09:00")
}

// cardFieldsFromFlags returns only the flags the caller actually set.
func cardFieldsFromFlags(cmd *cobra.Command) domain.CardFields {
	var fields domain.CardFields
	set := func(name string, dst **string) {
		if cmd.Flags().Changed(name) {
			v, _ := cmd.Flags().GetString(name)
			*dst = &v
		}
	}
	set("title", &fields.Title)
	set("description", &fields.Description)
	set("due", &fields.DueDate)
	set("assignee", &fields.Assignee)
	set("color", &fields.BackgroundColor)
	set("remind-email", &fields.ReminderEmail)
	set("remind-at", &fields.ReminderDateTime)
	return fields
}

func (a *app) addCardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-card BOARD_ID TITLE",
		Short: "Add a card to a board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID("board id", args[0])
			if err != nil {
				return err
			}
			title := strings.TrimSpace(args[1])
			if title == "" {
				return fmt.Errorf("title must not be blank")
			}
			f := cmd.Flags()
			card := domain.Card{Title: title}
			card.Description, _ = f.GetString("description")
			card.DueDate, _ = f.GetString("due")
			card.Assignee, _ = f.GetString("assignee")
			card.BackgroundColor, _ = f.GetString("color")
			card.ReminderEmail, _ = f.GetString("remind-email")
			card.ReminderDateTime, _ = f.GetString("remind-at")
			if card.ReminderDateTime != "" {
				if _, err := domain.ParseTimestamp(card.ReminderDateTime); err != nil {
					return fmt.Errorf("invalid --remind-at: %w", err)
				}
			}
			return a.mutate(cmd.Context(), func(ctx context.Context) (domain.Document, error) {
				return a.ctrl.AddCard(ctx, boardID, card)
			})
		},
	}
	cardFlags(cmd, false)
	return cmd
}

func (a *app) editCardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit-card BOARD_ID CARD_ID",
		Short: "Change fields of a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID("board id", args[0])
			if err != nil {
				return err
			}
			cardID, err := parseID("card id", args[1])
			if err != nil {
				return err
			}
			fields := cardFieldsFromFlags(cmd)
			if fields.IsEmpty() {
				return fmt.Errorf("no fields to change")
			}
			return a.mutate(cmd.Context(), func(ctx context.Context) (domain.Document, error) {
				return a.ctrl.EditCard(ctx, boardID, cardID, fields)
			})
		},
	}
	cardFlags(cmd, true)
	return cmd
}

func (a *app) moveCardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move-card CARD_ID FROM_BOARD_ID TO_BOARD_ID",
		Short: "Move a card to another board",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids [3]int64
			for i, name := range []string{"card id", "board id", "board id"} {
				id, err := parseID(name, args[i])
				if err != nil {
					return err
				}
				ids[i] = id
			}
			return a.mutate(cmd.Context(), func(ctx context.Context) (domain.Document, error) {
				return a.ctrl.MoveCard(ctx, ids[0], ids[1], ids[2])
			})
		},
	}
}

func (a *app) deleteCardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-card BOARD_ID CARD_ID",
		Short: "Remove a card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID("board id", args[0])
			if err != nil {
				return err
			}
			cardID, err := parseID("card id", args[1])
			if err != nil {
				return err
			}
			return a.mutate(cmd.Context(), func(ctx context.Context) (domain.Document, error) {
				return a.ctrl.DeleteCard(ctx, boardID, cardID)
			})
		},
	}
}

func (a *app) addBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-board TITLE",
		Short: "Append a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(args[0])
			if title == "" {
				return fmt.Errorf("title must not be blank")
			}
			color, _ := cmd.Flags().GetString("color")
			return a.mutate(cmd.Context(), func(ctx context.Context) (domain.Document, error) {
				return a.ctrl.AddBoard(ctx, domain.Board{Title: title, Color: color})
			})
		},
	}
	cmd.Flags().String("color", "", "Board color")
	return cmd
}

func (a *app) editBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit-board BOARD_ID",
		Short: "Rename or recolor a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID("board id", args[0])
			if err != nil {
				return err
			}
			var fields domain.BoardFields
			if cmd.Flags().Changed("title") {
				v, _ := cmd.Flags().GetString("title")
				fields.Title = &v
			}
			if cmd.Flags().Changed("color") {
				v, _ := cmd.Flags().GetString("color")
				fields.Color = &v
			}
			if fields.Title == nil && fields.Color == nil {
				return fmt.Errorf("no fields to change")
			}
			return a.mutate(cmd.Context(), func(ctx context.Context) (domain.Document, error) {
				return a.ctrl.EditBoard(ctx, boardID, fields)
			})
		},
	}
	cmd.Flags().String("title", "", "Board title")
	cmd.Flags().String("color", "", "Board color")
	return cmd
}

func (a *app) deleteBoardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-board BOARD_ID",
		Short: "Remove a board and its cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			boardID, err := parseID("board id", args[0])
			if err != nil {
				return err
			}
			return a.mutate(cmd.Context(), func(ctx context.Context) (domain.Document, error) {
				return a.ctrl.DeleteBoard(ctx, boardID)
			})
		},
	}
}

func (a *app) mutate(ctx context.Context, op func(context.Context) (domain.Document, error)) error {
	before := a.ctrl.Document().Version
	doc, err := op(ctx)
	return a.mutated(before, doc, err)
}
