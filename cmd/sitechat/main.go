// Command sitechat crawls websites and answers questions about them.
package main

import "github.com/JakeFAU/sitechat/cmd"

func main() {
	cmd.Execute()
}
