// Command server runs the CoachAI voice backend.
package main

import "github.com/coachai/coach-backend/internal/bootstrap"

func main() {
	bootstrap.Run()
}
