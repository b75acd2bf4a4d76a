package banner

import (
	"github.com/charmbracelet/lipgloss"

	"graphbench/internal/cli"
)

const ascii = `
   ______                 __    __                    __  
  / ____/________ _____  / /_  / /_  ___  ____  _____/ /_ 
 / / __/ ___/ __ '/ __ \/ __ \/ __ \/ _ \/ __ \/ ___/ __ \
/ /_/ / /  / /_/ / /_/ / / / / /_/ /  __/ / / / /__/ / / /
\____/_/   \__,_/ .___/_/ /_/_.___/\___/_/ /_/\___/_/ /_/ 
               /_/                                        `

func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(cli.ColorPrimary).
		Bold(true)

	return "\n" + style.Render(ascii) + "\n"
}
