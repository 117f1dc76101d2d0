package main

import "github.com/jovantay521/SC4079-aflplusplus-dashboard/cmd"

func main() {
	cmd.Execute()
}
