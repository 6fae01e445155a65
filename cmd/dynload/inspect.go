package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/owlshift/dynload/internal/dynamic"
	"github.com/owlshift/dynload/internal/elfimage"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path>",
		Short: "Browse an ELF shared object's segments and DT_NEEDED list interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}
}

// inspectItem is one row in the browser: a segment or a dependency name.
type inspectItem struct {
	title, detail string
}

func (i inspectItem) Title() string       { return i.title }
func (i inspectItem) Description() string { return i.detail }
func (i inspectItem) FilterValue() string { return i.title }

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFC800"))
)

type inspectModel struct {
	list list.Model
}

func (m inspectModel) Init() tea.Cmd { return nil }

func (m inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m inspectModel) View() string { return m.list.View() }

func runInspect(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	img, err := elfimage.New(buf)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	var items []list.Item
	for i, p := range img.Progs() {
		items = append(items, inspectItem{
			title:  fmt.Sprintf("segment[%d] %s", i, p.Type),
			detail: fmt.Sprintf("vaddr=%#x filesz=%#x memsz=%#x flags=%s", p.VAddr, p.FileSz, p.MemSz, p.Flags),
		})
	}
	if dynProg, ok := img.DynamicProg(); ok {
		if table, terr := dynamic.New(img, dynProg); terr == nil {
			if needed, nerr := table.Needed(); nerr == nil {
				for _, name := range needed {
					items = append(items, inspectItem{title: "needed: " + name})
				}
			}
		}
	}

	delegate := list.NewDefaultDelegate()
	l := list.New(items, delegate, 0, 0)
	l.Title = titleStyle.Render(path)

	_, err = tea.NewProgram(inspectModel{list: l}, tea.WithAltScreen()).Run()
	return err
}
