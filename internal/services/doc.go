// package services contains the Spotify Web API clients.
//
// [UserClient] performs bearer-authorized reads on behalf of one user and
// classifies every response before returning it: rate limiting and token
// expiry surface as typed signals callers must branch on, never as generic
// errors. [AppClient] holds the application credential pair and performs
// token refreshes.
//
// Response types follow https://developer.spotify.com/documentation/web-api/reference/
package services
